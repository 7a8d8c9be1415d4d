package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Greed71/webRTC/internal/client"
	"github.com/Greed71/webRTC/internal/negotiation"
	"github.com/Greed71/webRTC/internal/protocol"
	"github.com/Greed71/webRTC/internal/ui"
	"github.com/Greed71/webRTC/internal/webrtcpeer"
)

const usageHint = "Type a message and press Enter to chat. /audio and /video toggle tracks, /exit leaves."

var errConnectionLost = errors.New("connection to the signaling server was lost")

func newJoinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room>",
		Short: "Join a room and chat with the other participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd, args[0], false)
		},
	}
}

func newHostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "host <room>",
		Short: "Create a room, join it and wait for someone to pair with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd, args[0], true)
		},
	}
}

// chatSession is the console side of one run of join or host.
type chatSession struct {
	self    protocol.ID
	room    string
	started time.Time
	failed  chan error

	sent     atomic.Int64
	received atomic.Int64

	mu   sync.Mutex
	peer protocol.ID
}

// runSession joins room and chats until the user leaves. With create set the
// room is created first, but only once the channel is registered, so a guest
// joining right away can already reach this participant.
func (a *app) runSession(cmd *cobra.Command, room string, create bool) error {
	var rooms *client.API
	if create {
		var err error
		if rooms, err = a.api(); err != nil {
			return err
		}
	}
	wsURL, err := a.cfg.WebSocketURL()
	if err != nil {
		return err
	}
	kinds, err := a.cfg.MediaKinds()
	if err != nil {
		return err
	}
	servers, err := a.cfg.ICE.Servers()
	if err != nil {
		return err
	}
	api, err := webrtcpeer.NewAPI(webrtcpeer.Options{Logger: a.logger})
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ui.PrintProgressf("Connecting to %s as %s...", a.cfg.ServerURL, a.cfg.UserID)
	conn, err := client.Dial(ctx, wsURL, a.logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	cs := &chatSession{
		self:    protocol.ID(a.cfg.UserID),
		room:    room,
		started: time.Now(),
		failed:  make(chan error, 1),
	}
	factory := &webrtcpeer.Factory{API: api, ICEServers: servers, Logger: a.logger}
	media := &webrtcpeer.SyntheticMedia{StreamID: a.cfg.UserID}

	session := client.NewSession(client.SessionConfig{
		Self:  cs.self,
		Conn:  conn,
		Kinds: kinds,
		NewMachine: func(kinds []string) *negotiation.Machine {
			return negotiation.New(negotiation.Config{
				Self:       cs.self,
				Kinds:      kinds,
				Transports: factory,
				Media:      media,
				Signaler:   conn,
				Hooks:      cs.hooks(kinds, a),
				Logger:     a.logger,
			})
		},
		Handlers: cs.handlers(),
		Logger:   a.logger,
	})

	runDone := make(chan struct{})
	var runErr error
	go func() {
		defer close(runDone)
		runErr = session.Run(ctx)
	}()

	if create {
		res, err := rooms.CreateRoom(ctx, room, cs.self)
		if err != nil {
			return err
		}
		ui.PrintSuccess(res.Message)
	}
	if err := session.Join(ctx, room); err != nil {
		return err
	}
	ui.PrintInfo(usageHint)

	lines := readLines(cmd.InOrStdin())
	loopErr := func() error {
		for {
			select {
			case line, ok := <-lines:
				if !ok || cs.command(ctx, session, line) {
					return cs.leave(session)
				}
			case err := <-cs.failed:
				return err
			case <-runDone:
				if ctx.Err() != nil {
					return cs.leave(session)
				}
				if runErr != nil {
					return runErr
				}
				if err := conn.Err(); err != nil {
					return fmt.Errorf("%w: %v", errConnectionLost, err)
				}
				return errConnectionLost
			case <-ctx.Done():
				return cs.leave(session)
			}
		}
	}()

	_ = conn.Close()
	cancel()
	<-runDone
	ui.RenderSessionSummary(cs.summary(session))
	return loopErr
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// command handles one input line and reports whether the user asked to
// leave.
func (cs *chatSession) command(ctx context.Context, s *client.Session, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
	case "/exit", "/quit":
		return true
	case "/audio":
		cs.toggle(ctx, s, negotiation.KindAudio)
	case "/video":
		cs.toggle(ctx, s, negotiation.KindVideo)
	case "/help":
		ui.PrintInfo(usageHint)
	default:
		cs.say(s, line)
	}
	return false
}

func (cs *chatSession) toggle(ctx context.Context, s *client.Session, kind string) {
	if s.ToggleTrack(ctx, kind) {
		ui.PrintInfof("Sending %s.", kind)
	} else {
		ui.PrintInfof("Stopped sending %s.", kind)
	}
}

func (cs *chatSession) say(s *client.Session, text string) {
	m := s.Machine()
	if m == nil {
		ui.PrintWarning("No peer connected yet.")
		return
	}
	frame, err := client.EncodeMessage(client.MessageChat, client.ChatPayload{
		From:   string(cs.self),
		Text:   text,
		SentAt: time.Now(),
	})
	if err != nil {
		ui.PrintErrorf("Encode chat message: %v", err)
		return
	}
	if err := m.Send(frame); err != nil {
		if errors.Is(err, negotiation.ErrNoDataChannel) {
			ui.PrintWarning("Chat channel is not open yet.")
			return
		}
		ui.PrintErrorf("Send chat message: %v", err)
		return
	}
	cs.sent.Add(1)
}

func (cs *chatSession) leave(s *client.Session) error {
	err := s.Exit(context.Background())
	switch {
	case errors.Is(err, client.ErrNotInRoom):
		return nil
	case err != nil:
		return err
	}
	ui.PrintInfof("Left room %s.", cs.room)
	return nil
}

func (cs *chatSession) setPeer(id protocol.ID) {
	cs.mu.Lock()
	cs.peer = id
	cs.mu.Unlock()
}

func (cs *chatSession) peerID() protocol.ID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.peer
}

func (cs *chatSession) handlers() client.Handlers {
	return client.Handlers{
		OnJoined: func(room string, other protocol.ID) {
			ui.PrintSuccessf("User ID: %s joined room: %s successfully.", cs.self, room)
			if other == "" {
				ui.PrintProgress("Waiting for another participant...")
				return
			}
			cs.setPeer(other)
			ui.PrintProgressf("Negotiating with %s...", other)
		},
		OnJoinFailed: func(room string, reason protocol.FailureReason, message string) {
			err := errors.New(message)
			if message == "" {
				err = fmt.Errorf("join %s: %s", room, reason)
			}
			select {
			case cs.failed <- err:
			default:
			}
		},
		OnPeerJoined: func(room string, peer protocol.ID) {
			cs.setPeer(peer)
			ui.PrintInfof("User %s joined room %s.", peer, room)
		},
		OnPeerLeft: func(room string, peer protocol.ID, message string) {
			if message == "" {
				message = fmt.Sprintf("User %s left room %s.", peer, room)
			}
			ui.PrintWarning(message)
			ui.PrintProgress("Waiting for another participant...")
		},
		OnNegotiationError: func(err error) {
			var merr *negotiation.MediaAcquisitionError
			if errors.As(err, &merr) {
				ui.PrintErrorf("Could not acquire %s: %v", merr.Kind, merr.Err)
				return
			}
			ui.PrintWarningf("Negotiation step failed: %v", err)
		},
	}
}

func (cs *chatSession) hooks(kinds []string, a *app) negotiation.Hooks {
	return negotiation.Hooks{
		OnPhase: func(p negotiation.Phase) {
			switch p {
			case negotiation.PhaseConnected:
				ui.PrintSuccessf("Peer connection established with %s.", cs.peerID())
			case negotiation.PhaseClosed:
				ui.PrintInfo("Peer connection closed.")
			}
		},
		OnRemoteTrack: func(t negotiation.RemoteTrack) {
			ui.PrintInfof("Receiving %s from %s.", t.Kind, cs.peerID())
		},
		OnDataChannelOpen: func(dc negotiation.DataChannel) {
			frame, err := client.EncodeMessage(client.MessageHello, client.HelloPayload{
				UserID: string(cs.self),
				Kinds:  kinds,
			})
			if err == nil {
				err = dc.Send(frame)
			}
			if err != nil {
				a.logger.Warn("send hello", "err", err)
			}
		},
		OnMessage: func(data []byte) {
			cs.onMessage(data, a)
		},
	}
}

func (cs *chatSession) onMessage(data []byte, a *app) {
	msg, err := client.DecodeMessage(data)
	if err != nil {
		a.logger.Warn("dropping data channel message", "err", err)
		return
	}
	switch msg.Type {
	case client.MessageHello:
		var hello client.HelloPayload
		if err := msg.DecodePayload(&hello); err != nil {
			a.logger.Warn("dropping hello", "err", err)
			return
		}
		media := strings.Join(hello.Kinds, " and ")
		if media == "" {
			media = "no media"
		}
		ui.PrintInfof("Chat open with %s (sending %s).", hello.UserID, media)
	case client.MessageChat:
		var chat client.ChatPayload
		if err := msg.DecodePayload(&chat); err != nil {
			a.logger.Warn("dropping chat message", "err", err)
			return
		}
		cs.received.Add(1)
		ui.PrintChat(chat.From, chat.Text)
	default:
		a.logger.Debug("ignoring data channel message", "type", msg.Type)
	}
}

func (cs *chatSession) summary(s *client.Session) ui.SessionSummary {
	return ui.SessionSummary{
		Room:     cs.room,
		Peer:     string(cs.peerID()),
		Duration: time.Since(cs.started),
		Sent:     int(cs.sent.Load()),
		Received: int(cs.received.Load()),
		Tracks:   s.Kinds(),
	}
}
