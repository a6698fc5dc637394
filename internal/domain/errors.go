package domain

import "errors"

var (
	// ErrKeyNotFound は指定されたキーが存在しない場合のエラー（管理系操作用）。
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKey は検証時にキーが存在しない場合のエラー。
	// 削除済みか未発行かを呼び出し側に区別させないため、ErrKeyNotFoundとは分ける。
	ErrInvalidKey = errors.New("invalid key")

	// ErrKeyInactive は無効化されたキーに対する操作のエラー。
	ErrKeyInactive = errors.New("key is inactive")

	// ErrKeyExpired は有効期間を超過したキーに対する検証のエラー。
	ErrKeyExpired = errors.New("key has expired")

	// ErrKeyNotLinked は識別子が未紐付けのキーに対する検証のエラー。
	ErrKeyNotLinked = errors.New("key is not linked to any identity")

	// ErrIdentityConflict は既に別の識別子が紐付いたキーへの紐付け試行のエラー。
	ErrIdentityConflict = errors.New("key already bound to another identity")

	// ErrIdentityMismatch は紐付け済み識別子と検証時の識別子が一致しない場合のエラー。
	ErrIdentityMismatch = errors.New("identity does not match bound identity")

	// ErrInvalidKeyID はキーIDの形式が不正な場合のエラー。
	ErrInvalidKeyID = errors.New("invalid key ID")

	// ErrInvalidIdentity は識別子が空または不正な場合のエラー。
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidValidity は有効期間の指定が不正な場合のエラー。
	ErrInvalidValidity = errors.New("invalid validity period")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
