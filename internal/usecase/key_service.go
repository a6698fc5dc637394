// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"activation-key-service/internal/domain"
)

// KeyRepository はデータアクセスのインターフェース。
type KeyRepository interface {
	Create(ctx context.Context, key *domain.ActivationKey) error
	FindByID(ctx context.Context, id string) (*domain.ActivationKey, error)
	FindAll(ctx context.Context) ([]*domain.ActivationKey, error)
	UpdateActive(ctx context.Context, id string, active bool) error
	UpdateBoundIdentity(ctx context.Context, id string, identity string) error
	Delete(ctx context.Context, id string) error
}

// KeyService はアクティベーションキーのライフサイクルを管理するレジストリ。
// キーの発行・紐付け・検証・無効化・削除の唯一の決定主体となる。
//
// 紐付けポリシーは厳格方式: 紐付けは明示的なBind操作でのみ行われ、
// 未紐付けキーのVerifyはErrKeyNotLinkedで失敗する。
type KeyService struct {
	repo                  KeyRepository
	defaultValidityMonths int

	// 読み取り後書き込みの一連の操作（期限切れ検出、初回紐付け）を
	// レジストリ全体で直列化する。書き込み頻度は低い前提。
	mu sync.Mutex
}

// NewKeyService は新しいKeyServiceを生成する。
func NewKeyService(repo KeyRepository, defaultValidityMonths int) *KeyService {
	if defaultValidityMonths <= 0 {
		defaultValidityMonths = 1
	}
	return &KeyService{
		repo:                  repo,
		defaultValidityMonths: defaultValidityMonths,
	}
}

// Issue は新しいアクティベーションキーを発行する。
// validityMonthsがnilの場合はデフォルトの有効期間を適用する。
// 0は「発行時点で既に期限切れ」を意味する有効な指定値。
func (s *KeyService) Issue(ctx context.Context, validityMonths *int) (*domain.ActivationKey, error) {
	months := s.defaultValidityMonths
	if validityMonths != nil {
		if *validityMonths < 0 {
			return nil, domain.ErrInvalidValidity
		}
		months = *validityMonths
	}

	key := &domain.ActivationKey{
		ID:             uuid.New().String(),
		Active:         true,
		ValidityMonths: months,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("creating key: %w", err)
	}
	return key, nil
}

// Bind は指定されたキーに識別子を紐付ける。
// 既に同一の識別子が紐付いている場合は冪等に成功する。
// 別の識別子が紐付いている場合はErrIdentityConflictを返す。
func (s *KeyService) Bind(ctx context.Context, id string, identity string) (string, error) {
	if identity == "" {
		return "", domain.ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return "", domain.ErrKeyNotFound
	}
	if !key.Active {
		return "", domain.ErrKeyInactive
	}
	if key.BoundIdentity != "" && key.BoundIdentity != identity {
		return "", domain.ErrIdentityConflict
	}
	if key.BoundIdentity == identity {
		return identity, nil
	}

	if err := s.repo.UpdateBoundIdentity(ctx, id, identity); err != nil {
		return "", fmt.Errorf("binding identity: %w", err)
	}
	return identity, nil
}

// Verify はキーを検証し、成功時に公開ステータスを返す。
// 有効期間の超過を検出した場合は副作用としてキーを無効化し、
// ErrKeyExpiredを返す。この遷移は一方向で、以降の検証は
// ErrKeyInactiveで失敗する（Toggleによる明示的な再有効化を除く）。
func (s *KeyService) Verify(ctx context.Context, id string, identity string) (*domain.KeyStatus, error) {
	if identity == "" {
		return nil, domain.ErrInvalidIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrInvalidKey
	}
	if !key.Active {
		return nil, domain.ErrKeyInactive
	}

	now := time.Now().UTC()
	if key.IsExpiredAt(now) {
		if err := s.repo.UpdateActive(ctx, id, false); err != nil {
			return nil, fmt.Errorf("deactivating expired key: %w", err)
		}
		return nil, domain.ErrKeyExpired
	}

	if key.BoundIdentity == "" {
		return nil, domain.ErrKeyNotLinked
	}
	if key.BoundIdentity != identity {
		return nil, domain.ErrIdentityMismatch
	}

	return &domain.KeyStatus{
		BoundIdentity: key.BoundIdentity,
		Active:        key.Active,
		CreatedAt:     key.CreatedAt,
		RemainingDays: key.RemainingDays(now),
	}, nil
}

// Toggle は有効フラグを無条件に反転する（管理操作）。
// 期限の再評価は行わず、紐付けとCreatedAtには触れない。
// 期限切れキーを再有効化しても次の検証で再び期限切れと判定される。
func (s *KeyService) Toggle(ctx context.Context, id string) (*domain.ActivationKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}

	if err := s.repo.UpdateActive(ctx, id, !key.Active); err != nil {
		return nil, fmt.Errorf("toggling key: %w", err)
	}
	key.Active = !key.Active
	return key, nil
}

// List は全キーを発行順に返す。読み取り専用でストレージは変更しない。
// 各要素のExpiredは読み取り時点で計算される派生フィールド。
func (s *KeyService) List(ctx context.Context) ([]*domain.KeyView, error) {
	keys, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding keys: %w", err)
	}

	now := time.Now().UTC()
	views := make([]*domain.KeyView, len(keys))
	for i, k := range keys {
		views[i] = &domain.KeyView{
			ID:             k.ID,
			Active:         k.Active,
			ValidityMonths: k.ValidityMonths,
			BoundIdentity:  k.BoundIdentity,
			CreatedAt:      k.CreatedAt,
			Expired:        k.IsExpiredAt(now),
		}
	}
	return views, nil
}

// Delete は指定されたキーを完全に削除する。
// IDはUUID v4のため、削除後に同一IDが再発行されることはない。
func (s *KeyService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return domain.ErrKeyNotFound
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}
