package domain

import (
	"errors"
	"strings"
	"time"
)

// OverrideToken is a one-time capability minted by a trusted actor to let a
// specific denied-pending-review action proceed. Used flips exactly once.
type OverrideToken struct {
	Token     string    `json:"token"`
	Action    string    `json:"action"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

func (t OverrideToken) Validate() error {
	if strings.TrimSpace(t.Token) == "" {
		return errors.New("token is required")
	}
	if strings.TrimSpace(t.Action) == "" {
		return errors.New("token action is required")
	}
	if strings.TrimSpace(t.CreatedBy) == "" {
		return errors.New("token created_by is required")
	}
	if t.CreatedAt.IsZero() {
		return errors.New("token created_at is required")
	}
	if !t.ExpiresAt.After(t.CreatedAt) {
		return errors.New("token expires_at must be after created_at")
	}
	return nil
}

// Expired reports whether the token is past its expiry at the given time.
func (t OverrideToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
