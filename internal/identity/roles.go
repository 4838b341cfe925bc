package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

// RoleSource proposes a role for a principal. ok is false when the source
// has no opinion and the next source should be asked.
type RoleSource func(ctx context.Context, p *models.Principal) (role models.Role, ok bool)

// AppMetadataRole reads the directory-asserted "role" app metadata.
func AppMetadataRole(_ context.Context, p *models.Principal) (models.Role, bool) {
	return models.ParseRole(p.AppString("role"))
}

// UserMetadataRole reads the self-reported "role" user metadata.
func UserMetadataRole(_ context.Context, p *models.Principal) (models.Role, bool) {
	return models.ParseRole(p.UserString("role"))
}

// StoredRole reads the role column of the principal's profile row, giving
// up after timeout. A failed or timed out read has no opinion.
func StoredRole(store interface {
	GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error)
}, timeout time.Duration) RoleSource {
	return func(ctx context.Context, p *models.Principal) (models.Role, bool) {
		role, err := callBounded(ctx, timeout, func(ctx context.Context) (models.Role, error) {
			return store.GetProfileRole(ctx, p.ID)
		})
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				log.Warn().Err(err).Str("user_id", p.ID.String()).Msg("Failed to read stored role")
			}
			return "", false
		}
		return models.ParseRole(string(role))
	}
}

// ResolveRole asks each source in order and returns the first answer, or
// student when none has one.
func ResolveRole(ctx context.Context, p *models.Principal, sources []RoleSource) models.Role {
	for _, source := range sources {
		if role, ok := source(ctx, p); ok {
			return role
		}
	}
	return models.RoleStudent
}
