package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskdeck/internal/bffclient"
	"github.com/hitoshi/taskdeck/internal/config"
	"github.com/hitoshi/taskdeck/internal/handler"
	"github.com/hitoshi/taskdeck/internal/identity"
	"github.com/hitoshi/taskdeck/internal/logger"
	"github.com/hitoshi/taskdeck/internal/metrics"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/route"
	"github.com/hitoshi/taskdeck/internal/security"
	"github.com/hitoshi/taskdeck/internal/shell"
)

// 対話シェルの入出力。テストで差し替える。
var (
	shellIn  io.Reader = os.Stdin
	shellOut io.Writer = os.Stdout
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s", port))
	}

	// shell はWeb層のURLだけを必要とする
	if cmd == CommandShell {
		log := logger.SetupDefault(w)
		cfg, err := config.LoadShell()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runShell(cfg, log, shellIn, shellOut)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.String("env", cfg.AppEnv),
	)

	return runServe(cfg, log)
}

// servers はserveモードで起動する2つのHTTPハンドラーと後始末をまとめる。
type servers struct {
	app     http.Handler
	ops     http.Handler
	cleanup func()
}

// buildServers は全依存関係をワイヤリングし、アプリケーション用と運用（メトリクス）用の
// ハンドラーを構築する。
func buildServers(cfg *config.Config, log *slog.Logger, reg *prometheus.Registry) (*servers, error) {
	// 1. メトリクスの初期化
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. リモート認証サービスのクライアント
	remoteClient := &http.Client{Timeout: cfg.RemoteTimeout}
	identityClient := identity.NewClient(remoteClient, cfg.APIBaseURL, security.NewMessageSanitizer(), log)
	gateway := identity.NewService(identityClient, collector, log)

	cookies := handler.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	}

	// 3. タスク・プロジェクトAPIの転送
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RemoteTimeout
	forwarder, err := handler.NewAPIForwarder(cfg.APIBaseURL, transport, cookies, collector, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create API forwarder: %w", err)
	}

	// 4. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.AuthRateLimiterConfig(cfg.RateLimitAuth))

	router, err := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		AuthGateway:  gateway,
		Cookies:      cookies,
		APIForwarder: forwarder,
	})
	if err != nil {
		limiter.Stop()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &servers{
		app: router,
		ops: metrics.SetupMetricsRoute(reg),
		cleanup: func() {
			limiter.Stop()
			transport.CloseIdleConnections()
		},
	}, nil
}

// runServe はWebサーバーモードで起動する。
// アプリケーション用と運用用の2つのHTTPサーバーを起動し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	srv, err := buildServers(cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.cleanup()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.app,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	opsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           srv.ops,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{server, opsServer} {
		go func(s *http.Server) {
			log.Info("HTTP server starting", slog.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server listen error on %s: %w", s.Addr, err)
			}
		}(s)
	}

	var listenErr error
	select {
	case <-stop:
	case listenErr = <-errCh:
		log.Error("server stopped unexpectedly", slog.String("error", listenErr.Error()))
	}
	log.Info("shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := opsServer.Shutdown(ctx); err != nil {
		log.Warn("ops server shutdown failed", slog.String("error", err.Error()))
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if listenErr != nil {
		return listenErr
	}

	log.Info("servers stopped gracefully")
	return nil
}

// runShell はWeb層に接続する対話シェルを起動する。
// SIGINTまたはSIGTERMシグナルを受信すると実行中の呼び出しをキャンセルする。
func runShell(cfg *config.ShellConfig, log *slog.Logger, in io.Reader, out io.Writer) error {
	client, err := bffclient.New(cfg.BaseURL, cfg.RemoteTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to create web client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sh := shell.New(client, client, out, route.DashboardPath, log)
	if err := sh.Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shell failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
