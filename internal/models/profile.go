package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the application-side record of a learner, one per principal.
//
// LastStreakReward is the highest streak threshold already paid out; it only
// moves up on a grant and back down when the streak breaks.
type Profile struct {
	ID               uuid.UUID `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Username         string    `json:"username"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Role             Role      `json:"role"`
	BonusPoints      int       `json:"bonus_points"`
	LastStreakReward int       `json:"last_streak_reward"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
