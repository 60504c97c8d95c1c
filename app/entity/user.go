package entity

import (
	"database/sql"
	"time"
)

const (
	RoleDoctor   = "doctor"
	RoleHospital = "hospital"
	RoleAdmin    = "admin"
)

type User struct {
	ID              uint64
	Email           string
	EmailNormalized string
	PasswordHash    string
	Role            string
	IsActive        bool
	IsApproved      bool
	LastLogin       sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Gated reports whether account-status gating applies to the user.
// Admins bypass both the active and approved checks.
func (u *User) Gated() bool {
	return u.Role != RoleAdmin
}
