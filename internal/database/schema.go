package database

// Schema is the idempotent DDL applied at startup.
const Schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS auth_users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email VARCHAR(255) UNIQUE NOT NULL,
	password_hash TEXT,
	provider VARCHAR(32) NOT NULL DEFAULT 'email',
	provider_id VARCHAR(255),
	app_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	user_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_sign_in_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS profiles (
	id UUID PRIMARY KEY REFERENCES auth_users(id) ON DELETE CASCADE,
	first_name VARCHAR(100) NOT NULL DEFAULT '',
	last_name VARCHAR(100) NOT NULL DEFAULT '',
	username VARCHAR(100) NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	role VARCHAR(16) NOT NULL DEFAULT 'student' CHECK (role IN ('student', 'admin')),
	bonus_points INTEGER NOT NULL DEFAULT 0,
	last_streak_reward INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS activity_log (
	id BIGSERIAL PRIMARY KEY,
	user_id UUID NOT NULL,
	activity_date DATE NOT NULL,
	kind VARCHAR(32) NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activity_log_user_date ON activity_log(user_id, activity_date);

CREATE TABLE IF NOT EXISTS courses (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	title VARCHAR(255) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lessons (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	title VARCHAR(255) NOT NULL,
	position INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_lessons_course ON lessons(course_id);

CREATE TABLE IF NOT EXISTS lesson_completions (
	user_id UUID NOT NULL,
	course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	lesson_id UUID NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, lesson_id)
);
CREATE INDEX IF NOT EXISTS idx_lesson_completions_course ON lesson_completions(user_id, course_id);

CREATE TABLE IF NOT EXISTS course_progress (
	user_id UUID NOT NULL,
	course_id UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	completed_lessons INTEGER NOT NULL DEFAULT 0,
	total_lessons INTEGER NOT NULL DEFAULT 0,
	progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_completed BOOLEAN NOT NULL DEFAULT FALSE,
	started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (user_id, course_id)
);
`
