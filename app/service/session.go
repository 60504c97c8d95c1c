package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/medhire/auth-service/app/entity"
	"github.com/medhire/auth-service/app/events"
	"github.com/medhire/auth-service/app/repository"
	"github.com/medhire/auth-service/app/token"
	"github.com/medhire/auth-service/config"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUnsupportedRole    = errors.New("unsupported role")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrPendingApproval    = errors.New("account is pending approval")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSessionNotFound    = errors.New("session not found")
)

type userRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByNormalizedEmail(ctx context.Context, emailNormalized string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error
}

type refreshTokenLedger interface {
	Create(ctx context.Context, token *entity.RefreshToken) error
	DeleteByHash(ctx context.Context, tokenHash string) (int64, error)
	DeleteByUserID(ctx context.Context, userID uint64) error
}

type AsyncRunner func(task func())

type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type RefreshInput struct {
	RefreshToken string
	UserAgent    string
	IPAddress    string
}

type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

type SessionResult struct {
	User         *entity.User
	AccessToken  string
	RefreshToken string
	IsFirstLogin bool
}

type SessionService interface {
	Register(ctx context.Context, in RegisterInput) (*entity.User, error)
	Login(ctx context.Context, in LoginInput) (*SessionResult, error)
	Refresh(ctx context.Context, in RefreshInput) (*SessionResult, error)
	Logout(ctx context.Context, rawRefreshToken string) error
	LogoutAll(ctx context.Context, userID uint64) error
	ValidateAccessToken(tokenString string) (*token.AccessClaims, error)
}

type SessionServiceOption func(*sessionService)

type sessionService struct {
	db          *sql.DB
	userRepo    userRepository
	ledger      refreshTokenLedger
	codec       *token.Codec
	cfg         config.SessionConfig
	sink        events.Sink
	asyncRunner AsyncRunner
}

func NewSessionService(
	db *sql.DB,
	userRepo userRepository,
	ledger refreshTokenLedger,
	codec *token.Codec,
	cfg config.SessionConfig,
	sink events.Sink,
	opts ...SessionServiceOption,
) SessionService {
	svc := &sessionService{
		db:       db,
		userRepo: userRepo,
		ledger:   ledger,
		codec:    codec,
		cfg:      cfg,
		sink:     sink,
		asyncRunner: func(task func()) {
			go task()
		},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func WithAsyncRunner(runner AsyncRunner) SessionServiceOption {
	return func(s *sessionService) {
		if runner != nil {
			s.asyncRunner = runner
		}
	}
}

func (s *sessionService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	if in.Role != entity.RoleDoctor && in.Role != entity.RoleHospital {
		return nil, ErrUnsupportedRole
	}

	normalized := NormalizeEmail(in.Email)
	existing, err := s.userRepo.FindByNormalizedEmail(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &entity.User{
		Email:           strings.TrimSpace(in.Email),
		EmailNormalized: normalized,
		PasswordHash:    string(hashedPassword),
		Role:            in.Role,
		IsActive:        true,
		IsApproved:      false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txUserRepo := repository.NewUserRepository(tx)
	if err = txUserRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	if err = txUserRepo.CreateProfile(ctx, user.ID, user.Role); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return user, nil
}

func (s *sessionService) Login(ctx context.Context, in LoginInput) (*SessionResult, error) {
	normalized := NormalizeEmail(in.Email)
	user, err := s.userRepo.FindByNormalizedEmail(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Indistinguishable from a wrong password to the caller, but the
		// unknown email is still worth an audit trail entry.
		s.record(events.Event{
			Type:      events.TypeUnknownEmail,
			Email:     normalized,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
		return nil, ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.record(events.Event{
			Type:      events.TypeLoginFailed,
			UserID:    user.ID,
			Email:     normalized,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
		return nil, ErrInvalidCredentials
	}

	if err = s.checkGating(user, in.IPAddress, in.UserAgent); err != nil {
		return nil, err
	}

	isFirstLogin := !user.LastLogin.Valid
	now := time.Now()
	if err = s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = sql.NullTime{Time: now, Valid: true}

	accessToken, err := s.codec.MintAccessToken(user)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := s.issueRefreshToken(ctx, s.ledger, user.ID, in.UserAgent, in.IPAddress)
	if err != nil {
		return nil, err
	}

	s.record(events.Event{
		Type:      events.TypeLoginSucceeded,
		UserID:    user.ID,
		Email:     normalized,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	})

	return &SessionResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		IsFirstLogin: isFirstLogin,
	}, nil
}

func (s *sessionService) Refresh(ctx context.Context, in RefreshInput) (*SessionResult, error) {
	tokenHash := s.codec.HashToken(in.RefreshToken)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txLedger := repository.NewRefreshTokenRepository(tx)
	record, err := txLedger.FindByHashForUpdate(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if record == nil || record.ExpiresAt.Before(now) {
		return nil, ErrInvalidToken
	}

	txUserRepo := repository.NewUserRepository(tx)
	user, err := txUserRepo.FindByID(ctx, record.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	if gateErr := s.checkGating(user, in.IPAddress, in.UserAgent); gateErr != nil {
		// A failed gate on refresh logs the user out everywhere, not just
		// on this device.
		if err = txLedger.DeleteByUserID(ctx, user.ID); err != nil {
			return nil, err
		}
		if err = tx.Commit(); err != nil {
			return nil, err
		}
		s.record(events.Event{
			Type:      events.TypeRefreshRevoked,
			UserID:    user.ID,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
			Detail:    gateErr.Error(),
		})
		return nil, gateErr
	}

	accessToken, err := s.codec.MintAccessToken(user)
	if err != nil {
		return nil, err
	}

	// Rotation amortizes ledger writes: the refresh token is replaced only
	// once more than the configured fraction of its validity window has
	// elapsed.
	rawRefresh := in.RefreshToken
	if record.Age(now) > s.cfg.RotationThreshold {
		if _, err = txLedger.DeleteByHash(ctx, tokenHash); err != nil {
			return nil, err
		}
		rawRefresh, err = s.issueRefreshToken(ctx, txLedger, user.ID, in.UserAgent, in.IPAddress)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &SessionResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
	}, nil
}

func (s *sessionService) Logout(ctx context.Context, rawRefreshToken string) error {
	deleted, err := s.ledger.DeleteByHash(ctx, s.codec.HashToken(rawRefreshToken))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *sessionService) LogoutAll(ctx context.Context, userID uint64) error {
	if err := s.ledger.DeleteByUserID(ctx, userID); err != nil {
		return err
	}
	s.record(events.Event{
		Type:   events.TypeLogoutAll,
		UserID: userID,
	})
	return nil
}

func (s *sessionService) ValidateAccessToken(tokenString string) (*token.AccessClaims, error) {
	claims, err := s.codec.ParseAccessToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *sessionService) checkGating(user *entity.User, ip, userAgent string) error {
	if !user.Gated() {
		return nil
	}
	var gateErr error
	switch {
	case !user.IsActive:
		gateErr = ErrAccountDisabled
	case !user.IsApproved:
		gateErr = ErrPendingApproval
	default:
		return nil
	}
	s.record(events.Event{
		Type:      events.TypeLoginBlocked,
		UserID:    user.ID,
		Email:     user.EmailNormalized,
		IPAddress: ip,
		UserAgent: userAgent,
		Detail:    gateErr.Error(),
	})
	return gateErr
}

type refreshTokenCreator interface {
	Create(ctx context.Context, token *entity.RefreshToken) error
}

func (s *sessionService) issueRefreshToken(ctx context.Context, ledger refreshTokenCreator, userID uint64, userAgent, ip string) (string, error) {
	raw, err := s.codec.MintRefreshToken(userID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	record := &entity.RefreshToken{
		UserID:    userID,
		TokenHash: s.codec.HashToken(raw),
		UserAgent: userAgent,
		IPAddress: ip,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err = ledger.Create(ctx, record); err != nil {
		return "", err
	}

	return raw, nil
}

func (s *sessionService) record(event events.Event) {
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
