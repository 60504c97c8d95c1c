package http

import (
	"time"

	"github.com/medhire/auth-service/app/entity"
)

type UserResponse struct {
	ID         uint64     `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	IsActive   bool       `json:"is_active"`
	IsApproved bool       `json:"is_approved"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

func NewUserResponse(user *entity.User) UserResponse {
	res := UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		Role:       user.Role,
		IsActive:   user.IsActive,
		IsApproved: user.IsApproved,
	}
	if user.LastLogin.Valid {
		lastLogin := user.LastLogin.Time
		res.LastLogin = &lastLogin
	}
	return res
}

type RegisterResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

type SessionResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	IsFirstLogin bool         `json:"is_first_login,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
