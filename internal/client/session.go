package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Greed71/webRTC/internal/negotiation"
	"github.com/Greed71/webRTC/internal/protocol"
)

var ErrNotInRoom = errors.New("not in a room")

// Channel is what a Session needs from the duplex channel. *Conn satisfies
// it.
type Channel interface {
	Incoming() <-chan protocol.Envelope
	SendRoom(ctx context.Context, msg protocol.RoomMessage) error
}

// Handlers receive room notifications on the session's read goroutine. Any
// of them may be nil.
type Handlers struct {
	OnJoined           func(room string, other protocol.ID)
	OnJoinFailed       func(room string, reason protocol.FailureReason, message string)
	OnPeerJoined       func(room string, peer protocol.ID)
	OnPeerLeft         func(room string, peer protocol.ID, message string)
	OnNegotiationError func(err error)
}

type SessionConfig struct {
	Self protocol.ID
	Conn Channel
	// Kinds are the media kinds the first negotiation acquires. Toggling a
	// track updates the list for later memberships too.
	Kinds []string
	// NewMachine builds the negotiation state for one membership.
	NewMachine func(kinds []string) *negotiation.Machine
	Handlers   Handlers
	Logger     *slog.Logger
}

// Session is the participant side of the signaling router. It dispatches
// room notifications itself and hands negotiation messages to the
// membership's Machine, one at a time and in arrival order, on a separate
// worker so slow negotiation steps never stall reads.
type Session struct {
	cfg  SessionConfig
	log  *slog.Logger
	work chan func(context.Context)

	mu      sync.Mutex
	room    string
	other   protocol.ID
	kinds   []string
	machine *negotiation.Machine
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:   cfg,
		log:   cfg.Logger.With("user_id", cfg.Self),
		work:  make(chan func(context.Context), sendQueue),
		kinds: append([]string(nil), cfg.Kinds...),
	}
}

// Run dispatches incoming envelopes until the channel closes or ctx is
// cancelled. The current negotiation is closed on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.worker(ctx)
	}()
	defer func() {
		cancel()
		s.reset()
		wg.Wait()
	}()

	incoming := s.cfg.Conn.Incoming()
	for {
		select {
		case env, ok := <-incoming:
			if !ok {
				return nil
			}
			s.dispatch(ctx, env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) worker(ctx context.Context) {
	for {
		select {
		case fn := <-s.work:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) enqueue(ctx context.Context, fn func(context.Context)) {
	select {
	case s.work <- fn:
	case <-ctx.Done():
	}
}

func (s *Session) dispatch(ctx context.Context, env protocol.Envelope) {
	switch env.Label {
	case protocol.LabelRoom:
		msg, err := protocol.DecodeRoomMessage(env.Data)
		if err != nil {
			s.log.Warn("dropping room message", "err", err)
			return
		}
		s.handleRoom(ctx, msg)
	case protocol.LabelNegotiation:
		msg, err := protocol.DecodeNegotiationMessage(env.Data)
		if err != nil {
			s.log.Warn("dropping negotiation message", "err", err)
			return
		}
		s.handleNegotiation(ctx, msg)
	default:
		s.log.Warn("dropping envelope", "label", env.Label)
	}
}

func (s *Session) handleRoom(ctx context.Context, msg protocol.RoomMessage) {
	h := s.cfg.Handlers
	switch msg.Type {
	case protocol.TypeJoinSuccess:
		s.mu.Lock()
		// A JOIN_NOTIFY for the same peer means it joined after us, so it
		// holds the initiator role even though our own join came later.
		notified := msg.OtherUserID != "" && s.other == msg.OtherUserID
		s.room = msg.RoomName
		s.other = msg.OtherUserID
		s.mu.Unlock()
		s.log.Info("joined room", "room", msg.RoomName, "other", msg.OtherUserID)
		if h.OnJoined != nil {
			h.OnJoined(msg.RoomName, msg.OtherUserID)
		}
		// The joiner of an occupied room opens the negotiation; the creator
		// waits for the offer.
		if msg.OtherUserID != "" && !notified {
			m := s.ensureMachine()
			other := msg.OtherUserID
			s.enqueue(ctx, func(ctx context.Context) {
				s.check(m.Start(ctx, other))
			})
		}

	case protocol.TypeJoinFailure:
		s.log.Info("join failed", "room", msg.RoomName, "reason", msg.Reason)
		if h.OnJoinFailed != nil {
			h.OnJoinFailed(msg.RoomName, msg.Reason, msg.Message)
		}

	case protocol.TypeJoinNotify:
		s.mu.Lock()
		if s.room == "" {
			s.room = msg.RoomName
		}
		s.other = msg.JoineeID
		s.mu.Unlock()
		s.log.Info("peer joined", "room", msg.RoomName, "peer", msg.JoineeID)
		if h.OnPeerJoined != nil {
			h.OnPeerJoined(msg.RoomName, msg.JoineeID)
		}

	case protocol.TypeExitNotify, protocol.TypeDisconnectNotify:
		peer := msg.ExitedUserID
		if msg.Type == protocol.TypeDisconnectNotify {
			peer = msg.DisconnectedUserID
		}
		s.mu.Lock()
		m := s.machine
		s.machine = nil
		s.other = ""
		s.mu.Unlock()
		if m != nil {
			_ = m.Close()
		}
		s.log.Info("peer left", "room", msg.RoomName, "peer", peer, "type", msg.Type)
		if h.OnPeerLeft != nil {
			h.OnPeerLeft(msg.RoomName, peer, msg.Message)
		}

	default:
		s.log.Debug("ignoring room message", "type", msg.Type)
	}
}

func (s *Session) handleNegotiation(ctx context.Context, msg protocol.NegotiationMessage) {
	s.mu.Lock()
	from := s.other
	m := s.machine
	if m == nil && msg.Type == protocol.TypeOffer && from != "" {
		m = s.cfg.NewMachine(append([]string(nil), s.kinds...))
		s.machine = m
	}
	s.mu.Unlock()

	if m == nil || from == "" {
		s.log.Warn("no negotiation for message", "type", msg.Type)
		return
	}
	s.enqueue(ctx, func(ctx context.Context) {
		s.check(m.Handle(ctx, from, msg))
	})
}

func (s *Session) ensureMachine() *negotiation.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		s.machine = s.cfg.NewMachine(append([]string(nil), s.kinds...))
	}
	return s.machine
}

func (s *Session) check(err error) {
	if err == nil || errors.Is(err, negotiation.ErrClosed) || errors.Is(err, context.Canceled) {
		return
	}
	s.log.Warn("negotiation step failed", "err", err)
	if s.cfg.Handlers.OnNegotiationError != nil {
		s.cfg.Handlers.OnNegotiationError(err)
	}
}

// Join asks the server to place this participant in room. The outcome
// arrives as JOIN_SUCCESS or JOIN_FAILURE.
func (s *Session) Join(ctx context.Context, room string) error {
	return s.cfg.Conn.SendRoom(ctx, protocol.RoomMessage{
		Type:     protocol.TypeJoinRequest,
		RoomName: room,
		UserID:   s.cfg.Self,
	})
}

// Exit leaves the current room and closes its negotiation.
func (s *Session) Exit(ctx context.Context) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == "" {
		return ErrNotInRoom
	}
	s.reset()
	return s.cfg.Conn.SendRoom(ctx, protocol.RoomMessage{
		Type:     protocol.TypeExitRequest,
		RoomName: room,
		UserID:   s.cfg.Self,
	})
}

func (s *Session) reset() {
	s.mu.Lock()
	m := s.machine
	s.machine = nil
	s.room = ""
	s.other = ""
	s.mu.Unlock()
	if m != nil {
		_ = m.Close()
	}
}

// ToggleTrack flips whether kind is sent and reports the new state. An
// established session renegotiates; otherwise the change applies to the
// next negotiation.
func (s *Session) ToggleTrack(ctx context.Context, kind string) bool {
	s.mu.Lock()
	enabled := !hasKind(s.kinds, kind)
	if enabled {
		s.kinds = append(s.kinds, kind)
	} else {
		s.kinds = withoutKind(s.kinds, kind)
	}
	m := s.machine
	s.mu.Unlock()

	if m != nil {
		s.enqueue(ctx, func(ctx context.Context) {
			if enabled {
				s.check(m.AddTrack(ctx, kind))
			} else {
				s.check(m.RemoveTrack(ctx, kind))
			}
		})
	}
	return enabled
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) Other() protocol.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.other
}

// Machine returns the current membership's negotiation, or nil.
func (s *Session) Machine() *negotiation.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine
}

func (s *Session) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kinds...)
}

func hasKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func withoutKind(kinds []string, kind string) []string {
	out := kinds[:0]
	for _, k := range kinds {
		if k != kind {
			out = append(out, k)
		}
	}
	return out
}
