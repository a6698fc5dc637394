// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// validityMonthDays は有効期間1ヶ月を30日として近似する。
const validityMonthDays = 30

// ActivationKey はアクティベーションキーエンティティを表す。
// IDは発行時に生成される推測困難なランダム識別子で、唯一の認証要素となる。
type ActivationKey struct {
	ID             string
	Active         bool
	ValidityMonths int
	BoundIdentity  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidityPeriod は有効期間をdurationとして返す。
func (k *ActivationKey) ValidityPeriod() time.Duration {
	return time.Duration(k.ValidityMonths) * validityMonthDays * 24 * time.Hour
}

// ExpiresAt は有効期限の時刻を返す。
func (k *ActivationKey) ExpiresAt() time.Time {
	return k.CreatedAt.Add(k.ValidityPeriod())
}

// IsExpiredAt は指定時刻において有効期間を超過しているかを返す。
// Toggleで再有効化されてもCreatedAtはリセットされないため、
// 一度期限切れになったキーは再有効化後も次の検証で再び期限切れと判定される。
func (k *ActivationKey) IsExpiredAt(now time.Time) bool {
	return now.Sub(k.CreatedAt) > k.ValidityPeriod()
}

// RemainingDays は指定時刻からの残り有効日数（切り捨て）を返す。
// 無効なキーおよび期限超過後は0を返す。
func (k *ActivationKey) RemainingDays(now time.Time) int {
	if !k.Active {
		return 0
	}
	remaining := k.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}

// KeyStatus は検証成功時に返すキーの公開ステータスを表す。
type KeyStatus struct {
	BoundIdentity string
	Active        bool
	CreatedAt     time.Time
	RemainingDays int
}

// KeyView は一覧取得用のキービューを表す。
// Expiredは読み取り時に計算される派生フィールドで、ストレージは変更しない。
type KeyView struct {
	ID             string
	Active         bool
	ValidityMonths int
	BoundIdentity  string
	CreatedAt      time.Time
	Expired        bool
}
