package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"activation-key-service/internal/domain"
)

// mockKeyRepository はテスト用のインメモリモックリポジトリ。
type mockKeyRepository struct {
	mu    sync.Mutex
	keys  map[string]*domain.ActivationKey
	order []string

	createErr error
	findErr   error
	updateErr error
	deleteErr error
}

func newMockKeyRepository() *mockKeyRepository {
	return &mockKeyRepository{keys: make(map[string]*domain.ActivationKey)}
}

func months(n int) *int {
	return &n
}

func (m *mockKeyRepository) Create(ctx context.Context, key *domain.ActivationKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	key.CreatedAt = time.Now().UTC()
	key.UpdatedAt = key.CreatedAt
	stored := *key
	m.keys[key.ID] = &stored
	m.order = append(m.order, key.ID)
	return nil
}

func (m *mockKeyRepository) FindByID(ctx context.Context, id string) (*domain.ActivationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	key, ok := m.keys[id]
	if !ok {
		return nil, nil
	}
	copied := *key
	return &copied, nil
}

func (m *mockKeyRepository) FindAll(ctx context.Context) ([]*domain.ActivationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	result := make([]*domain.ActivationKey, 0, len(m.order))
	for _, id := range m.order {
		copied := *m.keys[id]
		result = append(result, &copied)
	}
	return result, nil
}

func (m *mockKeyRepository) UpdateActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if key, ok := m.keys[id]; ok {
		key.Active = active
	}
	return nil
}

func (m *mockKeyRepository) UpdateBoundIdentity(ctx context.Context, id string, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if key, ok := m.keys[id]; ok {
		key.BoundIdentity = identity
	}
	return nil
}

func (m *mockKeyRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.keys, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// setCreatedAt は格納済みキーの作成時刻を直接書き換える（期限テスト用）。
func (m *mockKeyRepository) setCreatedAt(id string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[id]; ok {
		key.CreatedAt = createdAt
	}
}

func (m *mockKeyRepository) stored(id string) *domain.ActivationKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return nil
	}
	copied := *key
	return &copied
}

func TestKeyService_Issue_Success(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	key, err := svc.Issue(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if key.ID == "" {
		t.Error("want non-empty key ID")
	}
	if !key.Active {
		t.Error("want active=true")
	}
	if key.ValidityMonths != 1 {
		t.Errorf("want validity 1 month, got %d", key.ValidityMonths)
	}
	if key.BoundIdentity != "" {
		t.Errorf("want empty bound identity, got %q", key.BoundIdentity)
	}
}

func TestKeyService_Issue_CustomValidity(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	key, err := svc.Issue(context.Background(), months(6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ValidityMonths != 6 {
		t.Errorf("want validity 6 months, got %d", key.ValidityMonths)
	}
}

func TestKeyService_Issue_NegativeValidity(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	_, err := svc.Issue(context.Background(), months(-1))
	if !errors.Is(err, domain.ErrInvalidValidity) {
		t.Errorf("want ErrInvalidValidity, got %v", err)
	}
}

func TestKeyService_Issue_UniqueIDs(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := svc.Issue(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[key.ID] {
			t.Fatalf("duplicate key ID issued: %s", key.ID)
		}
		seen[key.ID] = true
	}
}

func TestKeyService_Bind_Success(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	bound, err := svc.Bind(context.Background(), key.ID, "+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bound != "+15551234" {
		t.Errorf("want identity +15551234, got %s", bound)
	}
	if got := repo.stored(key.ID).BoundIdentity; got != "+15551234" {
		t.Errorf("want stored identity +15551234, got %q", got)
	}
}

func TestKeyService_Bind_Idempotent(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	if _, err := svc.Bind(context.Background(), key.ID, "+15551234"); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if _, err := svc.Bind(context.Background(), key.ID, "+15551234"); err != nil {
		t.Fatalf("repeated bind with same identity failed: %v", err)
	}
}

func TestKeyService_Bind_Conflict(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	if _, err := svc.Bind(context.Background(), key.ID, "+15551234"); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}

	_, err := svc.Bind(context.Background(), key.ID, "+15559999")
	if !errors.Is(err, domain.ErrIdentityConflict) {
		t.Errorf("want ErrIdentityConflict, got %v", err)
	}
	// 既存の紐付けは維持される
	if got := repo.stored(key.ID).BoundIdentity; got != "+15551234" {
		t.Errorf("want stored identity +15551234, got %q", got)
	}
}

func TestKeyService_Bind_NotFound(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	_, err := svc.Bind(context.Background(), "ffffffff-ffff-ffff-ffff-ffffffffffff", "+15551234")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound, got %v", err)
	}
}

func TestKeyService_Bind_Inactive(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	if _, err := svc.Toggle(context.Background(), key.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	_, err := svc.Bind(context.Background(), key.ID, "+15551234")
	if !errors.Is(err, domain.ErrKeyInactive) {
		t.Errorf("want ErrKeyInactive, got %v", err)
	}
}

func TestKeyService_Bind_RaceAdmitsOneWinner(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	identities := []string{"device-a", "device-b"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Bind(context.Background(), key.ID, identities[i])
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, domain.ErrIdentityConflict) {
			t.Errorf("want ErrIdentityConflict for loser, got %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("want exactly 1 winning bind, got %d", successes)
	}

	stored := repo.stored(key.ID).BoundIdentity
	if stored != "device-a" && stored != "device-b" {
		t.Errorf("stored identity %q is neither contender", stored)
	}
}

func TestKeyService_Verify_Success(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	// 残り日数計算を安定させるため発行時刻を1時間前に寄せる
	repo.setCreatedAt(key.ID, time.Now().UTC().Add(-time.Hour))

	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	status, err := svc.Verify(context.Background(), key.ID, "deviceA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.BoundIdentity != "deviceA" {
		t.Errorf("want identity deviceA, got %s", status.BoundIdentity)
	}
	if !status.Active {
		t.Error("want active=true")
	}
	if status.RemainingDays != 29 {
		t.Errorf("want 29 remaining days, got %d", status.RemainingDays)
	}
}

func TestKeyService_Verify_InvalidKey(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	_, err := svc.Verify(context.Background(), "ffffffff-ffff-ffff-ffff-ffffffffffff", "deviceA")
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("want ErrInvalidKey, got %v", err)
	}
}

func TestKeyService_Verify_NotLinked(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	_, err := svc.Verify(context.Background(), key.ID, "deviceA")
	if !errors.Is(err, domain.ErrKeyNotLinked) {
		t.Errorf("want ErrKeyNotLinked, got %v", err)
	}
}

func TestKeyService_Verify_IdentityMismatch(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	_, err := svc.Verify(context.Background(), key.ID, "deviceB")
	if !errors.Is(err, domain.ErrIdentityMismatch) {
		t.Errorf("want ErrIdentityMismatch, got %v", err)
	}
	// 不一致検証で紐付けは変化しない
	if got := repo.stored(key.ID).BoundIdentity; got != "deviceA" {
		t.Errorf("want stored identity deviceA, got %q", got)
	}
}

func TestKeyService_Verify_ExpiredThenInactive(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	// 有効期間（1ヶ月=30日）を超過させる
	repo.setCreatedAt(key.ID, time.Now().UTC().Add(-31*24*time.Hour))

	// 初回検証: 期限切れを検出し、副作用として無効化する
	_, err := svc.Verify(context.Background(), key.ID, "deviceA")
	if !errors.Is(err, domain.ErrKeyExpired) {
		t.Fatalf("want ErrKeyExpired, got %v", err)
	}
	if repo.stored(key.ID).Active {
		t.Error("want stored active=false after expiration")
	}

	// 2回目以降の検証: 無効化済みとして失敗する
	_, err = svc.Verify(context.Background(), key.ID, "deviceA")
	if !errors.Is(err, domain.ErrKeyInactive) {
		t.Errorf("want ErrKeyInactive, got %v", err)
	}
}

func TestKeyService_Verify_ZeroValidityExpiresImmediately(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, err := svc.Issue(context.Background(), months(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 有効期間0ヶ月は発行直後から期限切れ
	if _, err := svc.Verify(context.Background(), key.ID, "anything"); !errors.Is(err, domain.ErrKeyExpired) {
		t.Fatalf("want ErrKeyExpired, got %v", err)
	}
	if _, err := svc.Verify(context.Background(), key.ID, "anything"); !errors.Is(err, domain.ErrKeyInactive) {
		t.Errorf("want ErrKeyInactive on repeat, got %v", err)
	}
}

func TestKeyService_Verify_ZeroElapsedToleranceIsStrict(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	// ちょうど期限時刻: 経過時間が期間を「超える」まで有効
	repo.setCreatedAt(key.ID, time.Now().UTC().Add(-30*24*time.Hour).Add(time.Minute))

	if _, err := svc.Verify(context.Background(), key.ID, "deviceA"); err != nil {
		t.Errorf("key within validity should verify, got %v", err)
	}
}

func TestKeyService_Toggle_Flip(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	createdAt := repo.stored(key.ID).CreatedAt

	toggled, err := svc.Toggle(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toggled.Active {
		t.Error("want active=false after first toggle")
	}

	toggled, err = svc.Toggle(context.Background(), key.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !toggled.Active {
		t.Error("want active=true after second toggle")
	}

	// 紐付けとCreatedAtには触れない
	stored := repo.stored(key.ID)
	if stored.BoundIdentity != "" {
		t.Errorf("want empty bound identity, got %q", stored.BoundIdentity)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Error("toggle must not change CreatedAt")
	}
}

func TestKeyService_Toggle_NotFound(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)

	_, err := svc.Toggle(context.Background(), "ffffffff-ffff-ffff-ffff-ffffffffffff")
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound, got %v", err)
	}
}

func TestKeyService_Toggle_ExpiredKeyReExpires(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)
	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	repo.setCreatedAt(key.ID, time.Now().UTC().Add(-31*24*time.Hour))

	if _, err := svc.Verify(context.Background(), key.ID, "deviceA"); !errors.Is(err, domain.ErrKeyExpired) {
		t.Fatalf("want ErrKeyExpired, got %v", err)
	}

	// 管理操作で再有効化してもCreatedAtはリセットされないため、
	// 次の検証で再び期限切れになる
	if _, err := svc.Toggle(context.Background(), key.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if _, err := svc.Verify(context.Background(), key.ID, "deviceA"); !errors.Is(err, domain.ErrKeyExpired) {
		t.Errorf("want ErrKeyExpired after re-activation, got %v", err)
	}
}

func TestKeyService_List_DerivedExpired(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	fresh, _ := svc.Issue(context.Background(), nil)
	stale, _ := svc.Issue(context.Background(), nil)
	repo.setCreatedAt(stale.ID, time.Now().UTC().Add(-31*24*time.Hour))

	views, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("want 2 keys, got %d", len(views))
	}
	if views[0].ID != fresh.ID || views[1].ID != stale.ID {
		t.Error("want insertion order preserved")
	}
	if views[0].Expired {
		t.Error("fresh key must not be marked expired")
	}
	if !views[1].Expired {
		t.Error("stale key must be marked expired")
	}
	// 一覧は読み取り専用: ストレージのactiveは変化しない
	if !repo.stored(stale.ID).Active {
		t.Error("List must not deactivate expired keys")
	}
}

func TestKeyService_Delete_Terminal(t *testing.T) {
	repo := newMockKeyRepository()
	svc := NewKeyService(repo, 1)
	key, _ := svc.Issue(context.Background(), nil)

	if err := svc.Delete(context.Background(), key.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Verify(context.Background(), key.ID, "deviceA"); !errors.Is(err, domain.ErrInvalidKey) {
		t.Errorf("want ErrInvalidKey after delete, got %v", err)
	}
	if _, err := svc.Bind(context.Background(), key.ID, "deviceA"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound after delete, got %v", err)
	}
	if err := svc.Delete(context.Background(), key.ID); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("want ErrKeyNotFound for repeated delete, got %v", err)
	}
}
