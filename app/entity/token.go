package entity

import (
	"database/sql"
	"time"
)

// RefreshToken is one issued refresh token. Only the keyed hash of the raw
// token value is ever stored; the raw value lives client-side.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Age returns how much of the token's validity window has elapsed at now,
// as a fraction in [0, 1+).
func (t *RefreshToken) Age(now time.Time) float64 {
	window := t.ExpiresAt.Sub(t.CreatedAt)
	if window <= 0 {
		return 1
	}
	return float64(now.Sub(t.CreatedAt)) / float64(window)
}

// PasswordResetToken is one outstanding password reset request. A token is
// single-use: once UsedAt is set it can never be consumed again.
type PasswordResetToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	UsedAt    sql.NullTime
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}
