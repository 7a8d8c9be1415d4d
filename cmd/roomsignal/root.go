package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Greed71/webRTC/internal/client"
	"github.com/Greed71/webRTC/internal/config"
	"github.com/Greed71/webRTC/internal/ui"
)

// app holds what every subcommand resolves from the persistent flags.
type app struct {
	cfg    config.Client
	logger *slog.Logger
}

func (a *app) api() (*client.API, error) {
	base, err := a.cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	return client.NewAPI(base, nil), nil
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.ClientFromEnv()}

	root := &cobra.Command{
		Use:   "roomsignal",
		Short: "Pair with another participant in a named room and talk peer to peer",
		Long: `roomsignal talks to a room signaling server. Two participants that join the
same room negotiate a direct WebRTC session and can chat over its data channel.

Examples:
  roomsignal host lobby
  roomsignal join lobby --user bob
  roomsignal rooms`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.Output = cmd.OutOrStdout()
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			logger, err := config.NewClientLogger(cmd.ErrOrStderr(), a.cfg.LogLevel)
			if err != nil {
				return err
			}
			a.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.ServerURL, "server", a.cfg.ServerURL, "Signaling server base URL (env ROOMSIGNAL_SERVER_URL)")
	f.StringVar(&a.cfg.UserID, "user", a.cfg.UserID, "Participant id (env ROOMSIGNAL_USER_ID, default random)")
	f.StringVar(&a.cfg.Media, "media", a.cfg.Media, "Initial local tracks: audio, video, or none (env ROOMSIGNAL_MEDIA)")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Diagnostic log level on stderr (env ROOMSIGNAL_CLIENT_LOG_LEVEL)")
	f.StringVar(&a.cfg.ICE.ServersJSON, "ice-servers-json", a.cfg.ICE.ServersJSON, "ICE servers as a JSON list (env ROOMSIGNAL_ICE_SERVERS_JSON)")
	f.StringVar(&a.cfg.ICE.STUNURLs, "stun", a.cfg.ICE.STUNURLs, "Comma-separated STUN URLs (env ROOMSIGNAL_STUN_URLS)")
	f.StringVar(&a.cfg.ICE.TURNURLs, "turn", a.cfg.ICE.TURNURLs, "Comma-separated TURN URLs (env ROOMSIGNAL_TURN_URLS)")
	f.StringVar(&a.cfg.ICE.TURNUsername, "turn-user", a.cfg.ICE.TURNUsername, "TURN username (env ROOMSIGNAL_TURN_USERNAME)")
	f.StringVar(&a.cfg.ICE.TURNCredential, "turn-pass", a.cfg.ICE.TURNCredential, "TURN credential (env ROOMSIGNAL_TURN_CREDENTIAL)")

	root.AddCommand(
		newCreateCmd(a),
		newDestroyCmd(a),
		newRoomsCmd(a),
		newJoinCmd(a),
		newHostCmd(a),
	)
	return root
}

// Execute runs the CLI. Interrupts cancel the command's context so an open
// session can leave its room cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
