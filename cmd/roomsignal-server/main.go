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

	"github.com/Greed71/webRTC/internal/config"
	"github.com/Greed71/webRTC/internal/httpserver"
	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/origin"
	"github.com/Greed71/webRTC/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting roomsignal-server",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"duplicate_id_policy", cfg.DuplicateIDPolicy,
		"allowed_origins", cfg.AllowedOrigins,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_ws_ping_interval", cfg.SignalingWSPingInterval,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
	)

	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	m := metrics.New()
	sig := signaling.NewServer(signaling.Config{
		Logger:               logger,
		Metrics:              m,
		DuplicateIDPolicy:    cfg.DuplicateIDPolicy,
		Origins:              origin.NewPolicy(cfg.AllowedOrigins),
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		PingInterval:         cfg.SignalingWSPingInterval,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		SendQueue:            cfg.SignalingWSSendQueue,
	})
	sig.RegisterRoutes(srv.Router())
	srv.Router().Method(http.MethodGet, "/metrics", prometheusHandler(m, sig))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
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

	// Upgraded connections are hijacked and invisible to Shutdown, so close
	// the signaling sessions first.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// prometheusHandler exposes the event counters plus live connection and
// room counts.
func prometheusHandler(m *metrics.Metrics, sig *signaling.Server) http.Handler {
	return metrics.PrometheusHandler(m,
		metrics.Gauge{
			Name:  "roomsignal_connections",
			Help:  "Participants with an open signaling channel.",
			Value: sig.Registry().Len,
		},
		metrics.Gauge{
			Name:  "roomsignal_rooms",
			Help:  "Rooms currently held by the broker.",
			Value: sig.Broker().Len,
		},
	)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
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
