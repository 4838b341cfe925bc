package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

const profileColumns = `id, first_name, last_name, username, avatar_url, role,
	bonus_points, last_streak_reward, created_at, updated_at`

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var role string
	if err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Username,
		&p.AvatarURL,
		&role,
		&p.BonusPoints,
		&p.LastStreakReward,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return &p, nil
}

// GetProfile loads the profile of userID.
func (p *PostgresDB) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	profile, err := scanProfile(p.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, classify(err, "get profile")
	}
	return profile, nil
}

// GetProfileRole loads only the stored role column.
func (p *PostgresDB) GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	var role string
	err := p.db.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		return "", classify(err, "get profile role")
	}
	return models.Role(role), nil
}

// CreateProfile inserts profile unless a row with its ID already exists, and
// returns the row that is stored afterwards. created is false when another
// writer got there first; the caller then sees that writer's row.
func (p *PostgresDB) CreateProfile(ctx context.Context, profile *models.Profile) (stored *models.Profile, created bool, err error) {
	query := `
		INSERT INTO profiles (id, first_name, last_name, username, avatar_url, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + profileColumns

	stored, err = scanProfile(p.db.QueryRowContext(ctx, query,
		profile.ID,
		profile.FirstName,
		profile.LastName,
		profile.Username,
		profile.AvatarURL,
		string(profile.Role),
	))
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug().Str("user_id", profile.ID.String()).Msg("Profile already exists, reading stored row")
		stored, err = p.GetProfile(ctx, profile.ID)
		return stored, false, err
	}
	if err != nil {
		return nil, false, classify(err, "create profile")
	}

	log.Info().
		Str("user_id", stored.ID.String()).
		Str("username", stored.Username).
		Msg("Profile created")

	return stored, true, nil
}

// GrantStreakReward pays points for reaching level in a single conditional
// update: the row changes only while last_streak_reward is below level, so
// concurrent callers cannot both pay. Returns whether this call paid and the
// resulting balance.
func (p *PostgresDB) GrantStreakReward(ctx context.Context, userID uuid.UUID, level, points int) (granted bool, balance int, err error) {
	query := `
		UPDATE profiles
		SET bonus_points = bonus_points + $3,
			last_streak_reward = $2,
			updated_at = NOW()
		WHERE id = $1 AND last_streak_reward < $2
		RETURNING bonus_points
	`

	err = p.db.QueryRowContext(ctx, query, userID, level, points).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, classify(err, "grant streak reward")
	}
	return true, balance, nil
}

// LowerStreakReward moves the reward marker down to level when it is above
// it. Called when a streak breaks so the next crossing pays again.
func (p *PostgresDB) LowerStreakReward(ctx context.Context, userID uuid.UUID, level int) error {
	query := `
		UPDATE profiles
		SET last_streak_reward = $2, updated_at = NOW()
		WHERE id = $1 AND last_streak_reward > $2
	`
	if _, err := p.db.ExecContext(ctx, query, userID, level); err != nil {
		return classify(err, "lower streak reward")
	}
	return nil
}
