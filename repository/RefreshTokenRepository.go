package repository

import (
	"time"

	"mietplatz/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshTokenRepository defines DB operations for token records
type RefreshTokenRepository interface {
	Create(rt *model.RefreshToken) error
	GetByID(id uuid.UUID) (*model.RefreshToken, error)
	GetBySecretHash(hash string) (*model.RefreshToken, error)
	// Consume marks the record used+revoked in a single conditional UPDATE.
	// Returns false when the record was already revoked, i.e. a concurrent
	// rotation won the race.
	Consume(id uuid.UUID, usedAt time.Time) (bool, error)
	// RevokeByIDs flips revoked_at on every listed record that is not
	// revoked yet. Idempotent; returns how many rows changed this call.
	RevokeByIDs(ids []uuid.UUID, revokedAt time.Time) (int64, error)
	GetChildren(parentIDs []uuid.UUID) ([]model.RefreshToken, error)
	RevokeAllForUser(userID uuid.UUID) error
	// DeleteStale removes records that are already dead (expired or revoked)
	// and were issued longer than the retention age ago.
	DeleteStale(retention time.Duration) (int64, error)
	// InTx runs fn against a repository bound to a single transaction
	InTx(fn func(RefreshTokenRepository) error) error
}

type pgRefreshTokenRepo struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &pgRefreshTokenRepo{db: db}
}

func (r *pgRefreshTokenRepo) Create(rt *model.RefreshToken) error {
	return r.db.Create(rt).Error
}

func (r *pgRefreshTokenRepo) GetByID(id uuid.UUID) (*model.RefreshToken, error) {
	var t model.RefreshToken
	if err := r.db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgRefreshTokenRepo) GetBySecretHash(hash string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	if err := r.db.Where("secret_hash = ?", hash).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgRefreshTokenRepo) Consume(id uuid.UUID, usedAt time.Time) (bool, error) {
	res := r.db.Model(&model.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"last_used_at": usedAt,
			"revoked_at":   usedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *pgRefreshTokenRepo) RevokeByIDs(ids []uuid.UUID, revokedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Model(&model.RefreshToken{}).
		Where("id IN ? AND revoked_at IS NULL", ids).
		Update("revoked_at", revokedAt)
	return res.RowsAffected, res.Error
}

func (r *pgRefreshTokenRepo) GetChildren(parentIDs []uuid.UUID) ([]model.RefreshToken, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var children []model.RefreshToken
	if err := r.db.Where("parent_id IN ?", parentIDs).Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

func (r *pgRefreshTokenRepo) RevokeAllForUser(userID uuid.UUID) error {
	return r.db.Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}

func (r *pgRefreshTokenRepo) DeleteStale(retention time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-retention)
	res := r.db.
		Where("(expires_at < ? OR revoked_at IS NOT NULL) AND issued_at < ?", now, cutoff).
		Delete(&model.RefreshToken{})
	return res.RowsAffected, res.Error
}

func (r *pgRefreshTokenRepo) InTx(fn func(RefreshTokenRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&pgRefreshTokenRepo{db: tx})
	})
}
