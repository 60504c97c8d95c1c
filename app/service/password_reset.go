package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/medhire/auth-service/app/entity"
	"github.com/medhire/auth-service/app/events"
	"github.com/medhire/auth-service/app/mailer"
	"github.com/medhire/auth-service/app/repository"
	"github.com/medhire/auth-service/app/token"
	"github.com/medhire/auth-service/config"
)

var (
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	ErrResetTokenUsed    = errors.New("reset token already used")
	ErrResetTokenExpired = errors.New("reset token has expired")
)

type passwordResetRepository interface {
	Create(ctx context.Context, token *entity.PasswordResetToken) error
	DeleteUnusedByUserID(ctx context.Context, userID uint64) error
}

type RequestResetInput struct {
	Email     string
	IPAddress string
	UserAgent string
}

type ResetPasswordInput struct {
	RawToken    string
	NewPassword string
	IPAddress   string
	UserAgent   string
}

type PasswordResetService interface {
	// RequestReset never reveals whether the email exists; it returns nil
	// for unknown addresses after recording a security event.
	RequestReset(ctx context.Context, in RequestResetInput) error
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
}

type PasswordResetServiceOption func(*passwordResetService)

type passwordResetService struct {
	db          *sql.DB
	userRepo    userRepository
	resetRepo   passwordResetRepository
	codec       *token.Codec
	cfg         config.ResetConfig
	dispatcher  mailer.Dispatcher
	sink        events.Sink
	asyncRunner AsyncRunner
}

func NewPasswordResetService(
	db *sql.DB,
	userRepo userRepository,
	resetRepo passwordResetRepository,
	codec *token.Codec,
	cfg config.ResetConfig,
	dispatcher mailer.Dispatcher,
	sink events.Sink,
	opts ...PasswordResetServiceOption,
) PasswordResetService {
	svc := &passwordResetService{
		db:         db,
		userRepo:   userRepo,
		resetRepo:  resetRepo,
		codec:      codec,
		cfg:        cfg,
		dispatcher: dispatcher,
		sink:       sink,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithResetAsyncRunner(runner AsyncRunner) PasswordResetServiceOption {
	return func(s *passwordResetService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func (s *passwordResetService) RequestReset(ctx context.Context, in RequestResetInput) error {
	normalized := NormalizeEmail(in.Email)
	user, err := s.userRepo.FindByNormalizedEmail(ctx, normalized)
	if err != nil {
		return err
	}
	if user == nil {
		s.record(events.Event{
			Type:      events.TypePasswordResetRequest,
			Email:     normalized,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
			Detail:    "unknown email",
		})
		return nil
	}

	// At most one unused reset token per user; a new request supersedes any
	// outstanding one.
	if err = s.resetRepo.DeleteUnusedByUserID(ctx, user.ID); err != nil {
		return err
	}

	rawToken := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	record := &entity.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: s.codec.HashToken(rawToken),
		ExpiresAt: expiresAt,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = s.resetRepo.Create(ctx, record); err != nil {
		return err
	}

	// Email dispatch must not block the response; a delivery failure is the
	// notification pipeline's problem, not the requester's.
	email := mailer.PasswordResetEmail{
		To:        user.Email,
		RawToken:  rawToken,
		ExpiresAt: expiresAt,
	}
	s.asyncRunner(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if sendErr := s.dispatcher.SendPasswordResetEmail(sendCtx, email); sendErr != nil {
			logrus.WithError(sendErr).WithField("user_id", record.UserID).Warn("failed to dispatch password reset email")
		}
	})

	s.record(events.Event{
		Type:      events.TypePasswordResetRequest,
		UserID:    user.ID,
		Email:     normalized,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})

	return nil
}

func (s *passwordResetService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	tokenHash := s.codec.HashToken(in.RawToken)
	now := time.Now()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txResetRepo := repository.NewPasswordResetRepository(tx)
	record, err := txResetRepo.FindByHashForUpdate(ctx, tokenHash)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrInvalidResetToken
	}
	if record.UsedAt.Valid {
		return ErrResetTokenUsed
	}
	if record.ExpiresAt.Before(now) {
		return ErrResetTokenExpired
	}

	// Password update, token consumption, and session revocation must land
	// together; a reset is a full security-invalidation event.
	txUserRepo := repository.NewUserRepository(tx)
	if err = txUserRepo.UpdatePasswordHash(ctx, record.UserID, string(hashedPassword)); err != nil {
		return err
	}
	if err = txResetRepo.MarkUsed(ctx, record.ID, now); err != nil {
		return err
	}
	if err = repository.NewRefreshTokenRepository(tx).DeleteByUserID(ctx, record.UserID); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.record(events.Event{
		Type:      events.TypePasswordResetDone,
		UserID:    record.UserID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})

	return nil
}

func (s *passwordResetService) record(event events.Event) {
	if s.sink == nil {
		return
	}
	event.At = time.Now()
	s.asyncRunner(func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Warn("event sink panicked")
			}
		}()
		s.sink.Record(event)
	})
}
