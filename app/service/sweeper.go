package service

import (
	"context"
	"time"
)

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper removes expired refresh and reset tokens. Expiry is enforced on
// the request path already; the sweep just keeps the tables small and runs
// out-of-band (CLI or cron), never per-request.
type Sweeper struct {
	refreshTokens expiredDeleter
	resetTokens   expiredDeleter
}

func NewSweeper(refreshTokens, resetTokens expiredDeleter) *Sweeper {
	return &Sweeper{refreshTokens: refreshTokens, resetTokens: resetTokens}
}

type SweepResult struct {
	RefreshTokens int64
	ResetTokens   int64
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := time.Now()

	refresh, err := s.refreshTokens.DeleteExpired(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	reset, err := s.resetTokens.DeleteExpired(ctx, now)
	if err != nil {
		return SweepResult{RefreshTokens: refresh}, err
	}

	return SweepResult{RefreshTokens: refresh, ResetTokens: reset}, nil
}
