package model

import (
	"fmt"
	"time"
)

// Member is a registered participant with a points balance.
type Member struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	Location      string     `json:"location,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	Points        int64      `json:"points"`
	PasswordHash  string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the member can still sign in and trade.
func (m *Member) Active() bool {
	return m.DeactivatedAt == nil
}

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// ValidatePassword checks a new password against the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}
