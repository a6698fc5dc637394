// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"activation-key-service/config"
	"activation-key-service/internal/handler"
	"activation-key-service/internal/infra"
	"activation-key-service/internal/repository"
	"activation-key-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// ログレベル設定
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, logLevel)

	// DB初期化。DATABASE_URL未設定時はインメモリSQLiteで動作する
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set, using volatile in-memory store")
		if err := db.AutoMigrate(&repository.ActivationKeyModel{}); err != nil {
			slog.Error("failed to migrate in-memory schema", "error", err)
			os.Exit(1)
		}
	}

	// DI
	repo := repository.NewKeyRepository(db)
	service := usecase.NewKeyService(repo, cfg.DefaultValidityMonths)
	h := handler.NewKeyHandler(service, cfg.IdentityScheme)
	router := handler.NewRouter(h, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// keep-alive自己ping（スリープするホスティング環境向け）
	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	if cfg.KeepAliveURL != "" {
		go runKeepAlive(keepAliveCtx, cfg.KeepAliveURL, cfg.KeepAliveInterval)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		stopKeepAlive()
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"identity_scheme", string(cfg.IdentityScheme),
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// runKeepAlive は一定間隔で自身のURLにGETを発行してプロセスを起こし続ける。
func runKeepAlive(ctx context.Context, url string, interval time.Duration) {
	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				slog.Warn("keep-alive request build failed", "error", err)
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				slog.Warn("keep-alive ping failed", "error", err)
				continue
			}
			resp.Body.Close()
			slog.Debug("keep-alive ping", "status", resp.StatusCode)
		}
	}
}
