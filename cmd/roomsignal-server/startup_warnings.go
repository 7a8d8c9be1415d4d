package main

import (
	"log/slog"

	"github.com/Greed71/webRTC/internal/config"
	"github.com/Greed71/webRTC/internal/registry"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	// Participants are not authenticated, so under evict any client can take
	// over a connected id.
	if cfg.Mode == config.ModeProd && cfg.DuplicateIDPolicy == registry.DuplicateEvict {
		logger.Warn("startup security warning: ROOMSIGNAL_DUPLICATE_ID_POLICY=evict while --mode=prod (a new connection replaces a connected participant with the same id)",
			"warning_code", "duplicate_id_policy_evict_in_prod",
			"duplicate_id_policy", cfg.DuplicateIDPolicy,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (weakens WebSocket DoS hardening; increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessagesPerSecond > 1000 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is very large (a single participant can flood its peer)",
			"warning_code", "max_signaling_messages_per_second_large",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
