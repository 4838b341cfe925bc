package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return NewPostgresDBFromConn(conn), mock
}

func profileRow(id uuid.UUID, role string, marker int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "username", "avatar_url", "role",
		"bonus_points", "last_streak_reward", "created_at", "updated_at",
	}).AddRow(id.String(), "Ada", "Lovelace", "adalovelace", "", role, 0, marker, now, now)
}

func TestClassify(t *testing.T) {
	t.Run("no rows is not found", func(t *testing.T) {
		err := classify(sql.ErrNoRows, "get profile")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, IsTransient(err))
	})

	t.Run("unique violation is duplicate key", func(t *testing.T) {
		err := classify(&pq.Error{Code: "23505", Constraint: "lesson_completions_pkey"}, "insert")
		assert.ErrorIs(t, err, ErrDuplicateKey)
		assert.Contains(t, err.Error(), "lesson_completions_pkey")
	})

	t.Run("anything else is transient", func(t *testing.T) {
		err := classify(errors.New("connection reset by peer"), "get profile")
		assert.True(t, IsTransient(err))
		assert.Contains(t, err.Error(), "failed to get profile")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, classify(nil, "noop"))
	})
}

func TestPostgresDB_GetProfile(t *testing.T) {
	db, mock := setupMockDB(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(profileRow(id, "admin", 10))

	profile, err := db.GetProfile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, profile.Role)
	assert.Equal(t, 10, profile.LastStreakReward)

	mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = db.GetProfile(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDB_CreateProfile(t *testing.T) {
	id := uuid.New()
	profile := &models.Profile{ID: id, FirstName: "Ada", LastName: "Lovelace", Username: "adalovelace42", Role: models.RoleStudent}

	t.Run("inserts a new row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`INSERT INTO profiles .+ ON CONFLICT \(id\) DO NOTHING`).
			WithArgs(id, "Ada", "Lovelace", "adalovelace42", "", "student").
			WillReturnRows(profileRow(id, "student", 0))

		stored, created, err := db.CreateProfile(context.Background(), profile)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, id, stored.ID)
	})

	t.Run("returns the existing row on conflict", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`INSERT INTO profiles`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`SELECT .+ FROM profiles WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(profileRow(id, "admin", 0))

		stored, created, err := db.CreateProfile(context.Background(), profile)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, models.RoleAdmin, stored.Role)
	})
}

func TestPostgresDB_GrantStreakReward(t *testing.T) {
	id := uuid.New()

	t.Run("pays when marker is below level", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE profiles .+ WHERE id = \$1 AND last_streak_reward < \$2`).
			WithArgs(id, 10, 50).
			WillReturnRows(sqlmock.NewRows([]string{"bonus_points"}).AddRow(50))

		granted, balance, err := db.GrantStreakReward(context.Background(), id, 10, 50)
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, 50, balance)
	})

	t.Run("does nothing when already paid", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery(`UPDATE profiles`).
			WithArgs(id, 10, 50).
			WillReturnRows(sqlmock.NewRows([]string{"bonus_points"}))

		granted, _, err := db.GrantStreakReward(context.Background(), id, 10, 50)
		require.NoError(t, err)
		assert.False(t, granted)
	})
}

func TestPostgresDB_InsertLessonCompletion(t *testing.T) {
	db, mock := setupMockDB(t)
	c := &models.LessonCompletion{UserID: uuid.New(), CourseID: uuid.New(), LessonID: uuid.New(), CompletedAt: time.Now()}

	mock.ExpectExec(`INSERT INTO lesson_completions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.InsertLessonCompletion(context.Background(), c))

	mock.ExpectExec(`INSERT INTO lesson_completions`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "lesson_completions_pkey"})
	err := db.InsertLessonCompletion(context.Background(), c)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestPostgresDB_InsertActivity(t *testing.T) {
	db, mock := setupMockDB(t)
	userID := uuid.New()
	rec := &models.ActivityRecord{
		UserID:   userID,
		Date:     time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Kind:     models.ActivityLogin,
		Duration: 0,
	}

	mock.ExpectQuery(`INSERT INTO activity_log`).
		WithArgs(userID, "2024-03-04", "login", 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

	require.NoError(t, db.InsertActivity(context.Background(), rec))
	assert.Equal(t, int64(7), rec.ID)
}

func TestPostgresDB_DeleteAuthUser(t *testing.T) {
	id := uuid.New()

	t.Run("removes learning rows and the account", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM activity_log`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec(`DELETE FROM lesson_completions`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM course_progress`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM auth_users`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, db.DeleteAuthUser(context.Background(), id))
	})

	t.Run("rolls back when the account is missing", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM activity_log`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM lesson_completions`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM course_progress`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM auth_users`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := db.DeleteAuthUser(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
