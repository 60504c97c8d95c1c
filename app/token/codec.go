// Package token mints and verifies the two token kinds used by the session
// lifecycle: short-lived JWT access tokens carrying identity and account
// status, and longer-lived refresh tokens carrying only the user id.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medhire/auth-service/app/entity"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// AccessClaims embeds enough account state that routine requests need no
// database round-trip. The snapshot is deliberately stale; it is trusted
// only for the access token's short lifetime.
type AccessClaims struct {
	UserID     uint64 `json:"user_id"`
	Role       string `json:"role"`
	IsApproved bool   `json:"is_approved"`
	IsActive   bool   `json:"is_active"`
	jwt.RegisteredClaims
}

type Codec struct {
	jwtSecret  []byte
	hashSecret []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCodec(jwtSecret, hashSecret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		jwtSecret:  []byte(jwtSecret),
		hashSecret: []byte(hashSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (c *Codec) AccessTokenTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTokenTTL() time.Duration { return c.refreshTTL }

func (c *Codec) MintAccessToken(user *entity.User) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID:     user.ID,
		Role:       user.Role,
		IsApproved: user.IsApproved,
		IsActive:   user.IsActive,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   strconv.FormatUint(user.ID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}

// MintRefreshToken signs a refresh token carrying only the user id. Role and
// approval are intentionally absent; account status is re-read from storage
// on every refresh.
func (c *Codec) MintRefreshToken(userID uint64) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   strconv.FormatUint(userID, 10),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}

func (c *Codec) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HashToken is the deterministic keyed hash used both to store and to look
// up refresh and reset tokens. HMAC against a server secret means a stolen
// database alone cannot be used to forge a matching raw token.
func (c *Codec) HashToken(raw string) string {
	mac := hmac.New(sha256.New, c.hashSecret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
