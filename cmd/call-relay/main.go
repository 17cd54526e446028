package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/presence"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/relay"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting call-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"default_session", cfg.DefaultSession,
		"max_participants_per_session", cfg.MaxParticipantsPerSession,
		"max_connections", cfg.MaxConnections,
		"notify_peer_left", cfg.NotifyPeerLeft,
		"presence_backend", cfg.PresenceBackend,
	)
	logStartupWarnings(logger, cfg)

	store, err := newPresenceStore(cfg)
	if err != nil {
		logger.Error("failed to configure presence", "err", err)
		os.Exit(2)
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	if rs, ok := store.(*presence.RedisStore); ok {
		srv.AddReadinessCheck("redis", rs.Ping)
	}

	m := metrics.New()
	hub := relay.NewHub(relay.HubConfig{
		MaxConnections:            cfg.MaxConnections,
		MaxParticipantsPerSession: cfg.MaxParticipantsPerSession,
		NotifyPeerLeft:            cfg.NotifyPeerLeft,
		SendQueueBytes:            cfg.SendQueueBytes,
	}, logger, m, store)

	relay.NewWebSocketServer(hub, relay.ServerConfig{
		DefaultSession:       cfg.DefaultSession,
		Origins:              origin.Policy{Allowed: cfg.AllowedOrigins},
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
	}, logger, m).RegisterRoutes(srv.Mux())
	srv.HandleSessions(store)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		hub.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked signaling sockets are not tracked by http.Server, so close
	// them before waiting on the listener.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newPresenceStore(cfg config.Config) (presence.Store, error) {
	switch cfg.PresenceBackend {
	case config.PresenceRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := presence.NewRedisStore(ctx, presence.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return presence.NewMemoryStore(), nil
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info for
	// `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
