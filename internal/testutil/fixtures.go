// Package testutil provides fixtures and helpers shared by the package
// tests of the learner agent.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
)

// TestPrincipal creates a principal with self-reported names.
func TestPrincipal() *models.Principal {
	return &models.Principal{
		ID:    uuid.New(),
		Email: "ada@example.com",
		UserMetadata: map[string]interface{}{
			"first_name": "Ada",
			"last_name":  "Lovelace",
		},
	}
}

// TestPrincipalWithRole creates a principal whose app metadata asserts role.
func TestPrincipalWithRole(role models.Role) *models.Principal {
	p := TestPrincipal()
	p.AppMetadata = map[string]interface{}{"role": string(role)}
	return p
}

// TestSession creates a live session for p.
func TestSession(p *models.Principal) *models.Session {
	return &models.Session{
		ID:           uuid.New().String(),
		UserID:       p.ID,
		AccessToken:  "access-" + uuid.New().String(),
		RefreshToken: "refresh-" + uuid.New().String(),
		ExpiresAt:    time.Now().Add(15 * time.Minute),
		Principal:    p,
	}
}

// TestProfile creates the stored profile of p.
func TestProfile(p *models.Principal, role models.Role) *models.Profile {
	now := time.Now()
	return &models.Profile{
		ID:        p.ID,
		FirstName: p.UserString("first_name"),
		LastName:  p.UserString("last_name"),
		Username:  "adalovelace1815",
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestDeviceSession creates a listed device session.
func TestDeviceSession(current bool) *models.DeviceSession {
	return &models.DeviceSession{
		ID:         uuid.New().String(),
		DeviceInfo: "Firefox 121.0 · Windows 10 · Desktop",
		CreatedAt:  time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(7 * 24 * time.Hour),
		Current:    current,
	}
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}

// UserAgents provides common user agent strings for testing
var UserAgents = struct {
	Chrome       string
	Safari       string
	Firefox      string
	Edge         string
	MobileChrome string
	MobileSafari string
	Unknown      string
}{
	Chrome:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Safari:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	Firefox:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	Edge:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	MobileChrome: "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
	MobileSafari: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	Unknown:      "",
}

// IPAddresses provides test client addresses
var IPAddresses = struct {
	Public    string
	Other     string
	Localhost string
}{
	Public:    "203.0.113.42",
	Other:     "198.51.100.7",
	Localhost: "127.0.0.1",
}
