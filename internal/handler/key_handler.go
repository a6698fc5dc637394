// Package handler はHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"activation-key-service/config"
	"activation-key-service/internal/domain"
	"activation-key-service/internal/middleware"
	"activation-key-service/internal/usecase"
	"activation-key-service/pkg/httputil"
)

var keyIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// KeyHandler はアクティベーションキーAPIのHTTPハンドラを提供する。
type KeyHandler struct {
	service *usecase.KeyService
	scheme  config.IdentityScheme
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(service *usecase.KeyService, scheme config.IdentityScheme) *KeyHandler {
	return &KeyHandler{service: service, scheme: scheme}
}

func validateKeyID(id string) error {
	if id == "" || !keyIDRegex.MatchString(id) {
		return domain.ErrInvalidKeyID
	}
	return nil
}

// resolveIdentity はデプロイ設定に応じてクライアント識別子を決定する。
// numberスキームではリクエストボディの識別子をそのまま使う。
// deviceスキームでは接続元IPアドレスとUser-Agentヘッダから
// "<ip>|<user-agent>" を導出する。比較は常にバイト単位の完全一致。
func (h *KeyHandler) resolveIdentity(r *http.Request, bodyIdentity string) string {
	if h.scheme != config.IdentitySchemeDevice {
		return bodyIdentity
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// 先頭が接続元クライアント
		if idx := strings.IndexByte(ip, ','); idx >= 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return ip + "|" + r.UserAgent()
}

// CreateKeyRequest はキー発行リクエストの形式。ボディは省略可能。
// validity_monthsの0はデフォルトではなく「即時期限切れ」の明示指定。
type CreateKeyRequest struct {
	ValidityMonths *int `json:"validity_months"`
}

// BindRequest は識別子紐付けリクエストの形式。
type BindRequest struct {
	Key      string `json:"key"`
	Identity string `json:"identity"`
}

// VerifyRequest はキー検証リクエストの形式。
// deviceスキームのデプロイではidentityは無視される。
type VerifyRequest struct {
	Key      string `json:"key"`
	Identity string `json:"identity"`
}

// KeyResponse はキーレコードのレスポンス形式。
type KeyResponse struct {
	Key            string `json:"key"`
	Active         bool   `json:"active"`
	ValidityMonths int    `json:"validity_months"`
	BoundIdentity  string `json:"bound_identity,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// KeyListItemResponse は一覧用のキーレスポンス形式。
// expiredは読み取り時に計算される派生フィールド。
type KeyListItemResponse struct {
	Key            string `json:"key"`
	Active         bool   `json:"active"`
	ValidityMonths int    `json:"validity_months"`
	BoundIdentity  string `json:"bound_identity,omitempty"`
	CreatedAt      string `json:"created_at"`
	Expired        bool   `json:"expired"`
}

// KeyListResponse はキー一覧のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyListItemResponse `json:"keys"`
}

// BindResponse は紐付け成功のレスポンス形式。
type BindResponse struct {
	Message  string `json:"message"`
	Identity string `json:"identity"`
}

// VerifyResponse は検証成功のレスポンス形式。
type VerifyResponse struct {
	Detail        string `json:"detail"`
	Identity      string `json:"identity"`
	Active        bool   `json:"active"`
	CreatedAt     string `json:"created_at"`
	RemainingDays int    `json:"remaining_days"`
}

// MessageResponse は確認メッセージのレスポンス形式。
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateKey は新しいアクティベーションキーを発行する。
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	key, err := h.service.Issue(r.Context(), req.ValidityMonths)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidValidity) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_VALIDITY", "validity_months must not be negative")
			return
		}
		middleware.WriteAuditLog(r.Context(), "CREATE_KEY", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "CREATE_KEY", key.ID, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, KeyResponse{
		Key:            key.ID,
		Active:         key.Active,
		ValidityMonths: key.ValidityMonths,
		BoundIdentity:  key.BoundIdentity,
		CreatedAt:      key.CreatedAt.Format(time.RFC3339),
	})
}

// BindKey はキーに識別子を紐付ける。
func (h *KeyHandler) BindKey(w http.ResponseWriter, r *http.Request) {
	var req BindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if err := validateKeyID(req.Key); err != nil {
		middleware.WriteAuditLog(r.Context(), "BIND_KEY", req.Key, "FAILED")
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
		return
	}

	identity := h.resolveIdentity(r, req.Identity)
	bound, err := h.service.Bind(r.Context(), req.Key, identity)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "BIND_KEY", req.Key, "FAILED")
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
		case errors.Is(err, domain.ErrKeyInactive):
			httputil.Error(w, http.StatusForbidden, "KEY_INACTIVE", "key is inactive")
		case errors.Is(err, domain.ErrIdentityConflict):
			httputil.Error(w, http.StatusForbidden, "IDENTITY_CONFLICT", "key already in use by another identity")
		case errors.Is(err, domain.ErrInvalidIdentity):
			httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTITY", "identity is required")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "BIND_KEY", req.Key, "SUCCESS")
	httputil.JSON(w, http.StatusOK, BindResponse{
		Message:  "key bound successfully",
		Identity: bound,
	})
}

// VerifyKey はキーを検証する。失敗の種別によらずステータスは403を返す。
func (h *KeyHandler) VerifyKey(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if err := validateKeyID(req.Key); err != nil {
		middleware.WriteAuditLog(r.Context(), "VERIFY_KEY", req.Key, "FAILED")
		httputil.Error(w, http.StatusForbidden, "INVALID_KEY", "invalid key")
		return
	}

	identity := h.resolveIdentity(r, req.Identity)
	status, err := h.service.Verify(r.Context(), req.Key, identity)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "VERIFY_KEY", req.Key, "FAILED")
		switch {
		case errors.Is(err, domain.ErrInvalidKey):
			httputil.Error(w, http.StatusForbidden, "INVALID_KEY", "invalid key")
		case errors.Is(err, domain.ErrKeyInactive):
			httputil.Error(w, http.StatusForbidden, "KEY_INACTIVE", "key is inactive")
		case errors.Is(err, domain.ErrKeyExpired):
			httputil.Error(w, http.StatusForbidden, "KEY_EXPIRED", "key has expired")
		case errors.Is(err, domain.ErrKeyNotLinked):
			httputil.Error(w, http.StatusForbidden, "KEY_NOT_LINKED", "key is not linked to any identity")
		case errors.Is(err, domain.ErrIdentityMismatch):
			httputil.Error(w, http.StatusForbidden, "IDENTITY_MISMATCH", "identity does not match linked identity")
		case errors.Is(err, domain.ErrInvalidIdentity):
			httputil.Error(w, http.StatusBadRequest, "INVALID_IDENTITY", "identity is required")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_KEY", req.Key, "SUCCESS")
	httputil.JSON(w, http.StatusOK, VerifyResponse{
		Detail:        "key is valid",
		Identity:      status.BoundIdentity,
		Active:        status.Active,
		CreatedAt:     status.CreatedAt.Format(time.RFC3339),
		RemainingDays: status.RemainingDays,
	})
}

// ListKeys は全キーの一覧を取得する。
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LIST_KEYS", "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "LIST_KEYS", "", "SUCCESS")
	response := KeyListResponse{
		Keys: make([]KeyListItemResponse, len(views)),
	}
	for i, v := range views {
		response.Keys[i] = KeyListItemResponse{
			Key:            v.ID,
			Active:         v.Active,
			ValidityMonths: v.ValidityMonths,
			BoundIdentity:  v.BoundIdentity,
			CreatedAt:      v.CreatedAt.Format(time.RFC3339),
			Expired:        v.Expired,
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}

// ToggleKey は有効フラグを反転する（管理操作）。
func (h *KeyHandler) ToggleKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	if err := validateKeyID(keyID); err != nil {
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
		return
	}

	key, err := h.service.Toggle(r.Context(), keyID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "TOGGLE_KEY", keyID, "FAILED")
		if errors.Is(err, domain.ErrKeyNotFound) {
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "TOGGLE_KEY", keyID, "SUCCESS")
	httputil.JSON(w, http.StatusOK, KeyResponse{
		Key:            key.ID,
		Active:         key.Active,
		ValidityMonths: key.ValidityMonths,
		BoundIdentity:  key.BoundIdentity,
		CreatedAt:      key.CreatedAt.Format(time.RFC3339),
	})
}

// DeleteKey はキーを完全に削除する。
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "key_id")
	if err := validateKeyID(keyID); err != nil {
		httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
		return
	}

	if err := h.service.Delete(r.Context(), keyID); err != nil {
		middleware.WriteAuditLog(r.Context(), "DELETE_KEY", keyID, "FAILED")
		if errors.Is(err, domain.ErrKeyNotFound) {
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "DELETE_KEY", keyID, "SUCCESS")
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "key deleted"})
}

// Health は死活監視用のエンドポイント。
func (h *KeyHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "API online"})
}
