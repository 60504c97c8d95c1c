package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/medhire/auth-service/app/entity"
)

type PasswordResetRepository struct {
	db DBTX
}

func NewPasswordResetRepository(db DBTX) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func (r *PasswordResetRepository) Create(ctx context.Context, token *entity.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, ip_address, user_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.IPAddress,
		token.UserAgent,
		token.CreatedAt,
		token.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	token.ID = uint64(id)
	return nil
}

func (r *PasswordResetRepository) FindByHashForUpdate(ctx context.Context, tokenHash string) (*entity.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, ip_address, user_agent, created_at, updated_at
		FROM password_reset_tokens WHERE token_hash = ? FOR UPDATE
	`
	token := &entity.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.IPAddress,
		&token.UserAgent,
		&token.CreatedAt,
		&token.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// DeleteUnusedByUserID removes prior outstanding reset tokens so at most one
// unused token exists per user.
func (r *PasswordResetRepository) DeleteUnusedByUserID(ctx context.Context, userID uint64) error {
	query := `DELETE FROM password_reset_tokens WHERE user_id = ? AND used_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

func (r *PasswordResetRepository) MarkUsed(ctx context.Context, tokenID uint64, usedAt time.Time) error {
	query := `UPDATE password_reset_tokens SET used_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, usedAt, usedAt, tokenID)
	return err
}

func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < ? AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
