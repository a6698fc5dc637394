package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"activation-key-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(h *KeyHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	// ルート定義
	r.Get("/", h.Health)
	r.Route("/v1/keys", func(r chi.Router) {
		r.Post("/", h.CreateKey)
		r.Get("/", h.ListKeys)
		r.Post("/bind", h.BindKey)
		r.Post("/verify", h.VerifyKey)
		r.Put("/{key_id}/toggle", h.ToggleKey)
		r.Delete("/{key_id}", h.DeleteKey)
	})

	if cfg != nil && cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "activation-key-service")
	}
	return r
}
