package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/Cheese-TicTacToe/internal/ai"
	"github.com/park285/Cheese-TicTacToe/internal/auth"
	appcfg "github.com/park285/Cheese-TicTacToe/internal/config"
	"github.com/park285/Cheese-TicTacToe/internal/httpapi"
	"github.com/park285/Cheese-TicTacToe/internal/msgcat"
	"github.com/park285/Cheese-TicTacToe/internal/obslog"
	"github.com/park285/Cheese-TicTacToe/internal/presence"
	"github.com/park285/Cheese-TicTacToe/internal/protocol"
	"github.com/park285/Cheese-TicTacToe/internal/session"
	"github.com/park285/Cheese-TicTacToe/internal/transport/ws"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	reg := session.NewRegistry(store, registryConfig(cfg), session.WithLogger(logger.Named("session")))
	defer reg.Close()

	if cfg.DatabaseURL != "" {
		repo, err := session.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("results repository init error", zap.Error(err))
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = repo.EnsureSchema(sctx)
		cancel()
		if err != nil {
			logger.Fatal("results schema error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		reg.AttachRepository(repo)
		logger.Info("results_repository", zap.String("backend", "postgres"))
	} else {
		reg.AttachRepository(session.NewMemoryResults())
		logger.Warn("results_repository", zap.String("backend", "memory"))
	}

	authn, err := buildAuthenticator(cfg)
	if err != nil {
		logger.Fatal("auth init error", zap.Error(err))
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message catalog error", zap.Error(err))
	}

	engine := ai.NewEngine()
	if cfg.AISeeded {
		engine.SetRandomSeed(cfg.AIRandomSeed)
	}

	tracker := presence.NewTracker()
	handler := protocol.NewHandler(reg, authn, tracker, protocol.Options{
		MoveRejectionEvents: cfg.MoveRejectionEvents,
		ChatMaxLength:       cfg.ChatMaxLength,
		Logger:              logger.Named("protocol"),
		Messages:            msgs,
	})
	wsServer := ws.NewServer(handler, ws.Options{
		PingInterval:   cfg.WSPingInterval,
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.WSAllowedOrigins,
		Logger:         logger.Named("ws"),
	})
	router := httpapi.NewRouter(httpapi.Deps{
		Registry: reg,
		Presence: tracker,
		Auth:     authn,
		AI:       engine,
		WS:       wsServer,
		Logger:   logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("http_server_error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	handler.CloseAll("server shutting down")
	if err := wsServer.Wait(shutdownCtx); err != nil {
		logger.Warn("ws_drain_timeout", zap.Error(err))
	}
	logger.Info("shutdown_complete")
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (session.Store, func()) {
	if cfg.RedisURL == "" {
		logger.Warn("session_store", zap.String("backend", "memory"))
		return session.NewMemoryStore(), func() {}
	}
	rs, err := session.OpenRedisStore(ctx, cfg.RedisURL, cfg.RoomTTL)
	if err != nil {
		logger.Fatal("redis store init error", zap.Error(err))
	}
	logger.Info("session_store", zap.String("backend", "redis"), zap.Duration("ttl", cfg.RoomTTL))
	return rs, func() { _ = rs.Close() }
}

func registryConfig(cfg *appcfg.AppConfig) session.Config {
	rc := session.DefaultConfig()
	rc.DefaultBoardSize = cfg.BoardSizeDefault
	rc.MinBoardSize = cfg.BoardSizeMin
	rc.MaxBoardSize = cfg.BoardSizeMax
	rc.TimeLimit = cfg.TurnTimeLimit
	rc.EnforceClock = cfg.EnforceTurnClock
	rc.HistoryLimit = cfg.HistoryLimit
	if cfg.HistoryLimit > rc.MaxHistoryLimit {
		rc.MaxHistoryLimit = cfg.HistoryLimit
	}
	return rc
}

func buildAuthenticator(cfg *appcfg.AppConfig) (auth.Authenticator, error) {
	if cfg.JWTSecret != "" {
		v, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return auth.NewRemoteVerifier(cfg.AuthServiceURL, auth.WithRemoteTimeout(cfg.AuthTimeout)), nil
}
