package service_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/medhire/auth-service/app/entity"
	"github.com/medhire/auth-service/app/events"
	"github.com/medhire/auth-service/app/repository"
	"github.com/medhire/auth-service/app/service"
	"github.com/medhire/auth-service/app/token"
	"github.com/medhire/auth-service/config"
)

var (
	userColumns = []string{
		"id",
		"email",
		"email_normalized",
		"password_hash",
		"role",
		"is_active",
		"is_approved",
		"last_login",
		"created_at",
		"updated_at",
	}
	refreshTokenColumns = []string{
		"id",
		"user_id",
		"token_hash",
		"user_agent",
		"ip_address",
		"expires_at",
		"created_at",
	}
)

const (
	findByNormalizedEmailQuery = `(?s)SELECT id, email, email_normalized, password_hash, role, is_active, is_approved,\s+last_login, created_at, updated_at\s+FROM users WHERE email_normalized = \?`
	findUserByIDQuery          = `(?s)SELECT id, email, email_normalized, password_hash, role, is_active, is_approved,\s+last_login, created_at, updated_at\s+FROM users WHERE id = \?`
	insertUserQuery            = `(?s)INSERT INTO users \(email, email_normalized, password_hash, role, is_active, is_approved, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?, \?, \?\)`
	insertProfileQuery         = `(?s)INSERT INTO profiles \(user_id, role, created_at\) VALUES \(\?, \?, \?\)`
	updateLastLoginQuery       = `(?s)UPDATE users SET last_login = \?, updated_at = \? WHERE id = \?`
	insertRefreshTokenQuery    = `(?s)INSERT INTO refresh_tokens \(user_id, token_hash, user_agent, ip_address, expires_at, created_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?\)`
	findRefreshForUpdateQuery  = `(?s)SELECT id, user_id, token_hash, user_agent, ip_address, expires_at, created_at\s+FROM refresh_tokens WHERE token_hash = \? FOR UPDATE`
	deleteRefreshByHashQuery   = `(?s)DELETE FROM refresh_tokens WHERE token_hash = \?`
	deleteRefreshByUserQuery   = `(?s)DELETE FROM refresh_tokens WHERE user_id = \?`
)

// captureSink records events synchronously for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Record(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func syncRunner(task func()) { task() }

func newSessionServiceWithMock(t *testing.T) (service.SessionService, *token.Codec, sqlmock.Sqlmock, *captureSink, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	cfg := config.SessionConfig{
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		RotationThreshold: 0.5,
		TokenHashSecret:   "test-hash-secret",
	}
	codec := token.NewCodec("test-jwt-secret", cfg.TokenHashSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	sink := &captureSink{}
	svc := service.NewSessionService(
		db,
		repository.NewUserRepository(db),
		repository.NewRefreshTokenRepository(db),
		codec,
		cfg,
		sink,
		service.WithAsyncRunner(syncRunner),
	)

	return svc, codec, mock, sink, func() { _ = db.Close() }
}

func userRow(user *entity.User) *sqlmock.Rows {
	var lastLogin interface{}
	if user.LastLogin.Valid {
		lastLogin = user.LastLogin.Time
	}
	return sqlmock.NewRows(userColumns).AddRow(
		user.ID,
		user.Email,
		user.EmailNormalized,
		user.PasswordHash,
		user.Role,
		user.IsActive,
		user.IsApproved,
		lastLogin,
		user.CreatedAt,
		user.UpdatedAt,
	)
}

func testUser(role string, active, approved bool, password string) *entity.User {
	hashed, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	now := time.Now()
	return &entity.User{
		ID:              1,
		Email:           "Doctor@Example.com",
		EmailNormalized: "doctor@example.com",
		PasswordHash:    string(hashed),
		Role:            role,
		IsActive:        active,
		IsApproved:      approved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSessionService_Login_NormalizesEmail(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	user := testUser(entity.RoleDoctor, true, true, "password")

	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs("doctor@example.com").
		WillReturnRows(userRow(user))
	mock.ExpectExec(updateLastLoginQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), user.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertRefreshTokenQuery).
		WithArgs(user.ID, sqlmock.AnyArg(), "test-agent", "10.0.0.1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// Differs only in case and surrounding whitespace from the stored email.
	res, err := svc.Login(context.Background(), service.LoginInput{
		Email:     "  DOCTOR@example.COM ",
		Password:  "password",
		UserAgent: "test-agent",
		IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected tokens to be issued")
	}
	if !res.IsFirstLogin {
		t.Errorf("expected first login for user with null last_login")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Login_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	svc, _, mock, sink, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, errUnknown := svc.Login(context.Background(), service.LoginInput{
		Email:    "nobody@example.com",
		Password: "whatever",
	})

	user := testUser(entity.RoleDoctor, true, true, "correct")
	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(user.EmailNormalized).
		WillReturnRows(userRow(user))

	_, errWrong := svc.Login(context.Background(), service.LoginInput{
		Email:    user.Email,
		Password: "incorrect",
	})

	if !errors.Is(errUnknown, service.ErrInvalidCredentials) || !errors.Is(errWrong, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both cases, got %v and %v", errUnknown, errWrong)
	}

	// The caller cannot tell the cases apart, but the audit trail can.
	types := sink.types()
	if len(types) != 2 || types[0] != events.TypeUnknownEmail || types[1] != events.TypeLoginFailed {
		t.Fatalf("unexpected event types: %v", types)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Login_UnapprovedDoctorBlocked(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	user := testUser(entity.RoleDoctor, true, false, "password")
	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(user.EmailNormalized).
		WillReturnRows(userRow(user))

	_, err := svc.Login(context.Background(), service.LoginInput{
		Email:    user.Email,
		Password: "password",
	})
	if !errors.Is(err, service.ErrPendingApproval) {
		t.Fatalf("expected ErrPendingApproval, got %v", err)
	}

	// No last_login update and no refresh token row were expected.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Login_InactiveDoctorBlocked(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	user := testUser(entity.RoleDoctor, false, true, "password")
	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(user.EmailNormalized).
		WillReturnRows(userRow(user))

	_, err := svc.Login(context.Background(), service.LoginInput{
		Email:    user.Email,
		Password: "password",
	})
	if !errors.Is(err, service.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestSessionService_Login_InactiveAdminBypassesGating(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	user := testUser(entity.RoleAdmin, false, false, "password")
	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(user.EmailNormalized).
		WillReturnRows(userRow(user))
	mock.ExpectExec(updateLastLoginQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), user.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertRefreshTokenQuery).
		WithArgs(user.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := svc.Login(context.Background(), service.LoginInput{
		Email:    user.Email,
		Password: "password",
	})
	if err != nil {
		t.Fatalf("expected admin login to bypass gating, got %v", err)
	}
	if res.AccessToken == "" {
		t.Fatalf("expected access token")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Refresh_RotatesPastThreshold(t *testing.T) {
	svc, codec, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	raw, err := codec.MintRefreshToken(1)
	if err != nil {
		t.Fatalf("mint refresh token failed: %v", err)
	}
	tokenHash := codec.HashToken(raw)

	// Four days into a seven day window: past the 0.5 rotation threshold.
	now := time.Now()
	createdAt := now.Add(-4 * 24 * time.Hour)
	expiresAt := createdAt.Add(7 * 24 * time.Hour)

	user := testUser(entity.RoleDoctor, true, true, "password")

	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdateQuery).
		WithArgs(tokenHash).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(10), user.ID, tokenHash, "agent", "10.0.0.1", expiresAt, createdAt,
		))
	mock.ExpectQuery(findUserByIDQuery).
		WithArgs(user.ID).
		WillReturnRows(userRow(user))
	mock.ExpectExec(deleteRefreshByHashQuery).
		WithArgs(tokenHash).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertRefreshTokenQuery).
		WithArgs(user.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	res, err := svc.Refresh(context.Background(), service.RefreshInput{RefreshToken: raw})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if res.RefreshToken == raw {
		t.Fatalf("expected a rotated refresh token, got the old one back")
	}
	if res.AccessToken == "" {
		t.Fatalf("expected a new access token")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Refresh_KeepsYoungToken(t *testing.T) {
	svc, codec, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	raw, err := codec.MintRefreshToken(1)
	if err != nil {
		t.Fatalf("mint refresh token failed: %v", err)
	}
	tokenHash := codec.HashToken(raw)

	// One day into a seven day window: below the rotation threshold.
	now := time.Now()
	createdAt := now.Add(-24 * time.Hour)
	expiresAt := createdAt.Add(7 * 24 * time.Hour)

	user := testUser(entity.RoleDoctor, true, true, "password")

	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdateQuery).
		WithArgs(tokenHash).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(10), user.ID, tokenHash, "agent", "10.0.0.1", expiresAt, createdAt,
		))
	mock.ExpectQuery(findUserByIDQuery).
		WithArgs(user.ID).
		WillReturnRows(userRow(user))
	mock.ExpectCommit()

	res, err := svc.Refresh(context.Background(), service.RefreshInput{RefreshToken: raw})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if res.RefreshToken != raw {
		t.Fatalf("expected the same raw refresh token below the rotation threshold")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Refresh_UnknownToken(t *testing.T) {
	svc, codec, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdateQuery).
		WithArgs(codec.HashToken("missing")).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns))
	mock.ExpectRollback()

	_, err := svc.Refresh(context.Background(), service.RefreshInput{RefreshToken: "missing"})
	if !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessionService_Refresh_ExpiredToken(t *testing.T) {
	svc, codec, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	raw, _ := codec.MintRefreshToken(1)
	tokenHash := codec.HashToken(raw)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdateQuery).
		WithArgs(tokenHash).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(10), uint64(1), tokenHash, "agent", "10.0.0.1", now.Add(-time.Minute), now.Add(-8*24*time.Hour),
		))
	mock.ExpectRollback()

	_, err := svc.Refresh(context.Background(), service.RefreshInput{RefreshToken: raw})
	if !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestSessionService_Refresh_GateFailureRevokesAllSessions(t *testing.T) {
	svc, codec, mock, sink, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	raw, _ := codec.MintRefreshToken(1)
	tokenHash := codec.HashToken(raw)
	now := time.Now()

	// Account was deactivated after the token was issued.
	user := testUser(entity.RoleHospital, false, true, "password")

	mock.ExpectBegin()
	mock.ExpectQuery(findRefreshForUpdateQuery).
		WithArgs(tokenHash).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).AddRow(
			uint64(10), user.ID, tokenHash, "agent", "10.0.0.1", now.Add(6*24*time.Hour), now.Add(-24*time.Hour),
		))
	mock.ExpectQuery(findUserByIDQuery).
		WithArgs(user.ID).
		WillReturnRows(userRow(user))
	mock.ExpectExec(deleteRefreshByUserQuery).
		WithArgs(user.ID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	_, err := svc.Refresh(context.Background(), service.RefreshInput{RefreshToken: raw})
	if !errors.Is(err, service.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}

	types := sink.types()
	foundRevoked := false
	for _, typ := range types {
		if typ == events.TypeRefreshRevoked {
			foundRevoked = true
		}
	}
	if !foundRevoked {
		t.Fatalf("expected a revocation event, got %v", types)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Logout_UnknownTokenIsNotFound(t *testing.T) {
	svc, codec, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	mock.ExpectExec(deleteRefreshByHashQuery).
		WithArgs(codec.HashToken("already-consumed")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.Logout(context.Background(), "already-consumed")
	if !errors.Is(err, service.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionService_LogoutAll_Idempotent(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	mock.ExpectExec(deleteRefreshByUserQuery).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(deleteRefreshByUserQuery).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := svc.LogoutAll(context.Background(), 7); err != nil {
		t.Fatalf("first logout-all failed: %v", err)
	}
	if err := svc.LogoutAll(context.Background(), 7); err != nil {
		t.Fatalf("second logout-all failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Register_CreatesUserAndProfileAtomically(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs("new.doctor@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	mock.ExpectBegin()
	mock.ExpectExec(insertUserQuery).
		WithArgs("New.Doctor@Example.com", "new.doctor@example.com", sqlmock.AnyArg(), entity.RoleDoctor, true, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(insertProfileQuery).
		WithArgs(uint64(5), entity.RoleDoctor, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user, err := svc.Register(context.Background(), service.RegisterInput{
		Email:    "New.Doctor@Example.com",
		Password: "password",
		Role:     entity.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.ID != 5 {
		t.Errorf("expected user id 5, got %d", user.ID)
	}
	if user.IsApproved {
		t.Errorf("expected new doctor to start unapproved")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionService_Register_RejectsAdminRole(t *testing.T) {
	svc, _, _, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	_, err := svc.Register(context.Background(), service.RegisterInput{
		Email:    "admin@example.com",
		Password: "password",
		Role:     entity.RoleAdmin,
	})
	if !errors.Is(err, service.ErrUnsupportedRole) {
		t.Fatalf("expected ErrUnsupportedRole, got %v", err)
	}
}

func TestSessionService_Register_DuplicateEmail(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	existing := testUser(entity.RoleDoctor, true, true, "password")
	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(existing.EmailNormalized).
		WillReturnRows(userRow(existing))

	_, err := svc.Register(context.Background(), service.RegisterInput{
		Email:    existing.Email,
		Password: "password",
		Role:     entity.RoleDoctor,
	})
	if !errors.Is(err, service.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestSessionService_Login_SecondLoginIsNotFirst(t *testing.T) {
	svc, _, mock, _, cleanup := newSessionServiceWithMock(t)
	defer cleanup()

	user := testUser(entity.RoleHospital, true, true, "password")
	user.LastLogin = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}

	mock.ExpectQuery(findByNormalizedEmailQuery).
		WithArgs(user.EmailNormalized).
		WillReturnRows(userRow(user))
	mock.ExpectExec(updateLastLoginQuery).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), user.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertRefreshTokenQuery).
		WithArgs(user.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := svc.Login(context.Background(), service.LoginInput{
		Email:    user.Email,
		Password: "password",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if res.IsFirstLogin {
		t.Errorf("expected isFirstLogin to be false when last_login is set")
	}
}
