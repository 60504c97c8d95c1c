package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/medhire/auth-service/app/entity"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, email_normalized, password_hash, role, is_active, is_approved,
	       last_login, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (email, email_normalized, password_hash, role, is_active, is_approved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.EmailNormalized,
		user.PasswordHash,
		user.Role,
		user.IsActive,
		user.IsApproved,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = uint64(id)
	return nil
}

// CreateProfile inserts the empty per-role profile row that accompanies every
// new user. Profile content is owned by the profile service; only the atomic
// creation belongs here.
func (r *UserRepository) CreateProfile(ctx context.Context, userID uint64, role string) error {
	query := `INSERT INTO profiles (user_id, role, created_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, userID, role, time.Now())
	return err
}

func (r *UserRepository) FindByNormalizedEmail(ctx context.Context, emailNormalized string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE email_normalized = ?
	`
	return r.findOne(ctx, query, emailNormalized)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = ?
	`
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*entity.User, error) {
	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.EmailNormalized,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.IsApproved,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID uint64, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), userID)
	return err
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error {
	query := `UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, lastLogin, time.Now(), userID)
	return err
}
