package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	// Sessions are built for exactly two participants; a third peer would
	// receive offers meant for someone else.
	if cfg.MaxParticipantsPerSession == 0 || cfg.MaxParticipantsPerSession > 2 {
		logger.Warn("startup warning: MAX_PARTICIPANTS_PER_SESSION allows more than two participants per session",
			"warning_code", "session_capacity_above_two",
			"max_participants_per_session", cfg.MaxParticipantsPerSession,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.PresenceBackend == config.PresenceRedis && cfg.RedisPassword == "" {
		logger.Warn("startup security warning: REDIS_PASSWORD is empty while --mode=prod",
			"warning_code", "redis_without_password_in_prod",
			"redis_addr", cfg.RedisAddr,
			"mode", cfg.Mode,
		)
	}
}
