package identity

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/ieraasyl/LearnHub/internal/models"
)

func randomSuffix() int {
	return rand.IntN(10000)
}

// Synthesize builds the first profile of p from its user metadata.
//
// Names come from first_name/last_name, or are split out of the full_name
// (or name) a provider reports. The username is the supplied one, else the
// lowercased names joined plus a random suffix of up to four digits, else
// the local part of the email plus a suffix.
func Synthesize(p *models.Principal, suffix func() int) *models.Profile {
	first := p.UserString("first_name")
	last := p.UserString("last_name")
	if first == "" && last == "" {
		full := p.UserString("full_name")
		if full == "" {
			full = p.UserString("name")
		}
		if fields := strings.Fields(full); len(fields) > 0 {
			first = fields[0]
			last = strings.Join(fields[1:], " ")
		}
	}

	avatar := p.UserString("avatar_url")
	if avatar == "" {
		avatar = p.UserString("picture")
	}

	now := time.Now()
	return &models.Profile{
		ID:        p.ID,
		FirstName: first,
		LastName:  last,
		Username:  deriveUsername(p, first, last, suffix),
		AvatarURL: avatar,
		Role:      models.RoleStudent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func deriveUsername(p *models.Principal, first, last string, suffix func() int) string {
	if username := p.UserString("username"); username != "" {
		return username
	}

	base := compact(strings.ToLower(first) + strings.ToLower(last))
	if base == "" {
		local, _, _ := strings.Cut(p.Email, "@")
		base = compact(strings.ToLower(local))
	}
	if base == "" {
		base = "learner"
	}
	return base + strconv.Itoa(suffix())
}

// compact drops whitespace.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
