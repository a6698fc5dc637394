// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"activation-key-service/internal/domain"
)

// ActivationKeyModel はgorm用のモデル定義。
type ActivationKeyModel struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	Active         bool      `gorm:"not null;default:true;index:idx_active"`
	ValidityMonths int       `gorm:"not null;default:1"`
	BoundIdentity  string    `gorm:"type:varchar(512);not null;default:''"`
	CreatedAt      time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (ActivationKeyModel) TableName() string {
	return "activation_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ActivationKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *ActivationKeyModel) toDomain() *domain.ActivationKey {
	return &domain.ActivationKey{
		ID:             m.ID,
		Active:         m.Active,
		ValidityMonths: m.ValidityMonths,
		BoundIdentity:  m.BoundIdentity,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// KeyRepository はアクティベーションキーのデータアクセスを提供する。
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository は新しいKeyRepositoryを生成する。
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Create は新しいアクティベーションキーを保存する。
func (r *KeyRepository) Create(ctx context.Context, key *domain.ActivationKey) error {
	model := &ActivationKeyModel{
		ID:             key.ID,
		Active:         key.Active,
		ValidityMonths: key.ValidityMonths,
		BoundIdentity:  key.BoundIdentity,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create key",
			"operation", "create",
			"key_id", key.ID,
			"error", err,
		)
		return err
	}
	// gormで設定された値をドメインエンティティに反映
	key.ID = model.ID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID は指定されたIDのキーを取得する。存在しない場合はnilを返す。
func (r *KeyRepository) FindByID(ctx context.Context, id string) (*domain.ActivationKey, error) {
	var model ActivationKeyModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key",
			"operation", "find_by_id",
			"key_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAll は全キーを発行順に取得する。
func (r *KeyRepository) FindAll(ctx context.Context) ([]*domain.ActivationKey, error) {
	var models []ActivationKeyModel
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all keys",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.ActivationKey, len(models))
	for i, m := range models {
		keys[i] = m.toDomain()
	}
	return keys, nil
}

// UpdateActive は指定されたIDのキーの有効フラグを更新する。
func (r *KeyRepository) UpdateActive(ctx context.Context, id string, active bool) error {
	err := r.db.WithContext(ctx).
		Model(&ActivationKeyModel{}).
		Where("id = ?", id).
		Update("active", active).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update active flag",
			"operation", "update_active",
			"key_id", id,
			"active", active,
			"error", err,
		)
		return err
	}
	return nil
}

// UpdateBoundIdentity は指定されたIDのキーに識別子を紐付ける。
func (r *KeyRepository) UpdateBoundIdentity(ctx context.Context, id string, identity string) error {
	err := r.db.WithContext(ctx).
		Model(&ActivationKeyModel{}).
		Where("id = ?", id).
		Update("bound_identity", identity).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update bound identity",
			"operation", "update_bound_identity",
			"key_id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// Delete は指定されたIDのキーを完全に削除する。
func (r *KeyRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&ActivationKeyModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to delete key",
			"operation", "delete",
			"key_id", id,
			"error", err,
		)
		return err
	}
	return nil
}
