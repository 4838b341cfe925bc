package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

const authUserColumns = `id, email, COALESCE(password_hash, ''), provider, COALESCE(provider_id, ''),
	app_metadata, user_metadata, created_at, updated_at, last_sign_in_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuthUser(row rowScanner) (*models.AuthUser, error) {
	var user models.AuthUser
	var appMeta, userMeta []byte

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Provider,
		&user.ProviderID,
		&appMeta,
		&userMeta,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastSignInAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(appMeta, &user.AppMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode app metadata: %w", err)
	}
	if err := json.Unmarshal(userMeta, &user.UserMetadata); err != nil {
		return nil, fmt.Errorf("failed to decode user metadata: %w", err)
	}
	return &user, nil
}

func encodeMetadata(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// CreateAuthUser inserts a password account. A taken email fails with
// ErrDuplicateKey.
func (p *PostgresDB) CreateAuthUser(ctx context.Context, email, passwordHash string, userMeta map[string]interface{}) (*models.AuthUser, error) {
	meta, err := encodeMetadata(userMeta)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO auth_users (email, password_hash, provider, app_metadata, user_metadata)
		VALUES ($1, $2, 'email', '{"provider": "email"}'::jsonb, $3::jsonb)
		RETURNING ` + authUserColumns

	user, err := scanAuthUser(p.db.QueryRowContext(ctx, query, strings.ToLower(email), passwordHash, meta))
	if err != nil {
		return nil, classify(err, "create auth user")
	}

	log.Info().Str("user_id", user.ID.String()).Msg("Directory user created")
	return user, nil
}

// UpsertOAuthUser links an OAuth identity to the account with the same email,
// creating the account when needed. Metadata already on the account wins
// over what the provider reports.
func (p *PostgresDB) UpsertOAuthUser(ctx context.Context, provider, providerID, email string, userMeta map[string]interface{}) (*models.AuthUser, error) {
	meta, err := encodeMetadata(userMeta)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO auth_users (email, provider, provider_id, app_metadata, user_metadata)
		VALUES ($1, $2, $3, jsonb_build_object('provider', $2::text), $4::jsonb)
		ON CONFLICT (email)
		DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			user_metadata = EXCLUDED.user_metadata || auth_users.user_metadata,
			updated_at = NOW()
		RETURNING ` + authUserColumns

	user, err := scanAuthUser(p.db.QueryRowContext(ctx, query, strings.ToLower(email), provider, providerID, meta))
	if err != nil {
		return nil, classify(err, "upsert oauth user")
	}
	return user, nil
}

// GetAuthUserByID loads an account.
func (p *PostgresDB) GetAuthUserByID(ctx context.Context, userID uuid.UUID) (*models.AuthUser, error) {
	return getAuthUser(ctx, p.db, "id = $1", userID)
}

// GetAuthUserByEmail loads an account by its (case-insensitive) email.
func (p *PostgresDB) GetAuthUserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	return getAuthUser(ctx, p.db, "email = $1", strings.ToLower(email))
}

func getAuthUser(ctx context.Context, q Querier, where string, arg interface{}) (*models.AuthUser, error) {
	query := `SELECT ` + authUserColumns + ` FROM auth_users WHERE ` + where
	user, err := scanAuthUser(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, classify(err, "get auth user")
	}
	return user, nil
}

// UpdateAuthUserMetadata merges meta into the account's user metadata.
func (p *PostgresDB) UpdateAuthUserMetadata(ctx context.Context, userID uuid.UUID, meta map[string]interface{}) (*models.AuthUser, error) {
	data, err := encodeMetadata(meta)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE auth_users
		SET user_metadata = user_metadata || $2::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + authUserColumns

	user, err := scanAuthUser(p.db.QueryRowContext(ctx, query, userID, data))
	if err != nil {
		return nil, classify(err, "update auth user metadata")
	}
	return user, nil
}

// UpdateAuthUserPassword replaces the password hash.
func (p *PostgresDB) UpdateAuthUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return execOne(ctx, p.db, "update password",
		`UPDATE auth_users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		userID, passwordHash)
}

// UpdateLastSignIn stamps the account's last sign-in time.
func (p *PostgresDB) UpdateLastSignIn(ctx context.Context, userID uuid.UUID) error {
	return execOne(ctx, p.db, "update last sign-in",
		`UPDATE auth_users SET last_sign_in_at = NOW() WHERE id = $1`,
		userID)
}

// DeleteAuthUser removes an account with its profile and every learning row
// in one transaction.
func (p *PostgresDB) DeleteAuthUser(ctx context.Context, userID uuid.UUID) error {
	return p.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"activity_log", "lesson_completions", "course_progress"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
				return fmt.Errorf("failed to delete %s rows: %w", table, err)
			}
		}
		// profiles cascade from auth_users
		if err := execOne(ctx, tx, "delete auth user", `DELETE FROM auth_users WHERE id = $1`, userID); err != nil {
			return err
		}

		log.Info().Str("user_id", userID.String()).Msg("Directory user deleted")
		return nil
	})
}

// execOne runs a statement that must touch exactly one row.
func execOne(ctx context.Context, q Querier, op, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err, op)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
