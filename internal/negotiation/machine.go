package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Greed71/webRTC/internal/protocol"
)

var errNoTransport = errors.New("no transport")

type Config struct {
	// Self is this participant's identifier, used to break renegotiation
	// glare.
	Self protocol.ID
	// Kinds are the media kinds acquired when a negotiation starts.
	Kinds []string

	Transports TransportFactory
	Media      MediaSource
	// Signaler must be safe for concurrent use: late candidate batches are
	// sent from the transport event goroutine.
	Signaler Signaler
	Hooks    Hooks
	Logger   *slog.Logger
}

// Machine is the negotiation state of one room membership.
//
// Negotiation steps are serialised by opMu. State lives under mu, which is
// never held across a Transport, MediaSource or Signaler call, so Close does
// not wait for an in-flight step. A step that finds the machine closed after
// it resumes releases whatever it acquired and returns ErrClosed.
type Machine struct {
	cfg   Config
	log   *slog.Logger
	hooks Hooks

	opMu sync.Mutex

	mu          sync.Mutex
	phase       Phase
	ice         ICEState
	other       protocol.ID
	kinds       []string
	transport   Transport
	tracks      map[string]Track
	channel     DataChannel
	channelOpen bool
	inbound     []protocol.Candidate
	outbound    []protocol.Candidate
	flushed     bool
	gathered    bool
	offerOut    bool
	done        chan struct{}
}

func New(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	kinds := make([]string, 0, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds = addKind(kinds, k)
	}
	return &Machine{
		cfg:    cfg,
		log:    cfg.Logger.With("self", cfg.Self),
		hooks:  cfg.Hooks,
		kinds:  kinds,
		tracks: make(map[string]Track),
		done:   make(chan struct{}),
	}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) ICE() ICEState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ice
}

// Other is the peer this machine negotiates with, once known.
func (m *Machine) Other() protocol.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.other
}

// Tracks returns the kinds of the live local tracks, sorted.
func (m *Machine) Tracks() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.tracks))
	for kind := range m.tracks {
		out = append(out, kind)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Buffered is the number of inbound candidates waiting for a remote
// description.
func (m *Machine) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbound)
}

// Start runs the initiator path up to sending the OFFER.
func (m *Machine) Start(ctx context.Context, other protocol.ID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.begin(other); err != nil {
		return err
	}
	t, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	dc, err := t.CreateDataChannel(ChatLabel)
	if err != nil {
		return m.fail("create data channel", err)
	}
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		_ = dc.Close()
		return ErrClosed
	}
	m.channel = dc
	m.mu.Unlock()

	offer, err := t.CreateOffer()
	if err != nil {
		return m.fail("create offer", err)
	}
	if err := t.SetLocalDescription(offer); err != nil {
		return m.fail("set local offer", err)
	}
	if !m.setPhase(PhaseOffering) {
		return ErrClosed
	}
	return m.send(ctx, protocol.NegotiationMessage{
		Type:        protocol.TypeOffer,
		OtherUserID: other,
		Offer:       &offer,
	})
}

// HandleAnswer completes the initiator path.
func (m *Machine) HandleAnswer(ctx context.Context, answer protocol.SessionDescription) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t, phase := m.current()
	switch {
	case phase == PhaseClosed:
		return ErrClosed
	case phase != PhaseOffering || t == nil:
		return m.fail("apply answer", fmt.Errorf("unexpected answer in phase %s", phase))
	}
	if err := t.SetRemoteDescription(answer); err != nil {
		return m.fail("set remote answer", err)
	}
	m.applyBuffered(t)
	return m.flushOutbound(ctx)
}

// HandleOffer runs the responder path for an OFFER sent by from.
func (m *Machine) HandleOffer(ctx context.Context, from protocol.ID, offer protocol.SessionDescription) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.begin(from); err != nil {
		return err
	}
	t, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	// The chat channel arrives from the initiator as an EventDataChannel.
	if !m.setPhase(PhaseAnswering) {
		return ErrClosed
	}

	if err := t.SetRemoteDescription(offer); err != nil {
		return m.fail("set remote offer", err)
	}
	m.applyBuffered(t)

	answer, err := t.CreateAnswer()
	if err != nil {
		return m.fail("create answer", err)
	}
	if err := t.SetLocalDescription(answer); err != nil {
		return m.fail("set local answer", err)
	}
	if err := m.send(ctx, protocol.NegotiationMessage{
		Type:        protocol.TypeAnswer,
		OtherUserID: from,
		Answer:      &answer,
	}); err != nil {
		return err
	}
	return m.flushOutbound(ctx)
}

// HandleCandidates applies remote candidates, or buffers them in arrival
// order until a remote description is set.
func (m *Machine) HandleCandidates(ctx context.Context, candidates []protocol.Candidate) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.ice != ICEApplying || m.transport == nil {
		m.inbound = append(m.inbound, candidates...)
		n := len(m.inbound)
		m.mu.Unlock()
		m.log.Debug("remote candidates buffered", "count", len(candidates), "buffered", n)
		return nil
	}
	t := m.transport
	m.mu.Unlock()

	for _, c := range candidates {
		m.addCandidate(t, c)
	}
	return nil
}

// AddTrack acquires a track of kind and, once connected, renegotiates.
// Before a negotiation starts it only records the kind for Start.
func (m *Machine) AddTrack(ctx context.Context, kind string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.tracks[kind]; ok {
		m.mu.Unlock()
		return nil
	}
	m.kinds = addKind(m.kinds, kind)
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return nil
	}

	tr, err := m.cfg.Media.Acquire(ctx, kind)
	if err != nil {
		merr := &MediaAcquisitionError{Kind: kind, Err: err}
		m.log.Error("media acquisition failed", "kind", kind, "err", err)
		return merr
	}
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		tr.Stop()
		return ErrClosed
	}
	m.tracks[kind] = tr
	m.mu.Unlock()

	if err := t.AddTrack(tr); err != nil {
		return m.fail("add "+kind+" track", err)
	}
	return m.renegotiate(ctx, t)
}

// RemoveTrack stops the track of kind and, once connected, renegotiates.
func (m *Machine) RemoveTrack(ctx context.Context, kind string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.kinds = removeKind(m.kinds, kind)
	tr, ok := m.tracks[kind]
	delete(m.tracks, kind)
	t := m.transport
	m.mu.Unlock()
	if !ok {
		return nil
	}

	var err error
	if t != nil {
		err = t.RemoveTrack(tr)
	}
	tr.Stop()
	if t == nil {
		return nil
	}
	if err != nil {
		return m.fail("remove "+kind+" track", err)
	}
	return m.renegotiate(ctx, t)
}

// HandleRenegotiationOffer answers a RENEGOTIATION_OFFER. If a local
// renegotiation offer is outstanding, the lower identifier rolls its own
// offer back, answers, then offers again; the higher one ignores the
// incoming offer.
func (m *Machine) HandleRenegotiationOffer(ctx context.Context, offer protocol.SessionDescription) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	t, other, pending := m.transport, m.other, m.offerOut
	m.mu.Unlock()
	if t == nil {
		return m.fail("apply renegotiation offer", errNoTransport)
	}

	reoffer := false
	if pending {
		if !defers(m.cfg.Self, other) {
			m.log.Info("renegotiation glare: keeping local offer", "other", other)
			return nil
		}
		m.log.Info("renegotiation glare: rolling back local offer", "other", other)
		if err := t.Rollback(); err != nil {
			return m.fail("rollback local offer", err)
		}
		m.mu.Lock()
		m.offerOut = false
		m.mu.Unlock()
		reoffer = true
	}

	if err := t.SetRemoteDescription(offer); err != nil {
		return m.fail("set remote renegotiation offer", err)
	}
	answer, err := t.CreateAnswer()
	if err != nil {
		return m.fail("create renegotiation answer", err)
	}
	if err := t.SetLocalDescription(answer); err != nil {
		return m.fail("set local renegotiation answer", err)
	}
	if err := m.send(ctx, protocol.NegotiationMessage{
		Type:        protocol.TypeRenegotiationAnswer,
		OtherUserID: other,
		Answer:      &answer,
	}); err != nil {
		return err
	}
	if reoffer {
		return m.renegotiate(ctx, t)
	}
	return nil
}

func (m *Machine) HandleRenegotiationAnswer(ctx context.Context, answer protocol.SessionDescription) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t, phase := m.current()
	if phase == PhaseClosed {
		return ErrClosed
	}
	if t == nil {
		return m.fail("apply renegotiation answer", errNoTransport)
	}
	if err := t.SetRemoteDescription(answer); err != nil {
		return m.fail("set remote renegotiation answer", err)
	}
	m.mu.Lock()
	m.offerOut = false
	m.mu.Unlock()
	return nil
}

// Handle dispatches one inbound negotiation message from the peer.
func (m *Machine) Handle(ctx context.Context, from protocol.ID, msg protocol.NegotiationMessage) error {
	switch msg.Type {
	case protocol.TypeOffer, protocol.TypeRenegotiationOffer:
		if msg.Offer == nil {
			return fmt.Errorf("%w: %s missing offer", protocol.ErrMalformed, msg.Type)
		}
		if msg.Type == protocol.TypeOffer {
			return m.HandleOffer(ctx, from, *msg.Offer)
		}
		return m.HandleRenegotiationOffer(ctx, *msg.Offer)
	case protocol.TypeAnswer, protocol.TypeRenegotiationAnswer:
		if msg.Answer == nil {
			return fmt.Errorf("%w: %s missing answer", protocol.ErrMalformed, msg.Type)
		}
		if msg.Type == protocol.TypeAnswer {
			return m.HandleAnswer(ctx, *msg.Answer)
		}
		return m.HandleRenegotiationAnswer(ctx, *msg.Answer)
	case protocol.TypeICECandidates:
		return m.HandleCandidates(ctx, msg.Candidates)
	default:
		return fmt.Errorf("%w: unsupported negotiation message type %q", protocol.ErrMalformed, msg.Type)
	}
}

// Send writes data to the chat channel.
func (m *Machine) Send(data []byte) error {
	m.mu.Lock()
	dc, open, phase := m.channel, m.channelOpen, m.phase
	m.mu.Unlock()
	if phase == PhaseClosed {
		return ErrClosed
	}
	if dc == nil || !open {
		return ErrNoDataChannel
	}
	return dc.Send(data)
}

// Close tears the negotiation down: local tracks are stopped, then the data
// channel and the transport are closed. It is idempotent and does not wait
// for in-flight steps.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return nil
	}
	m.phase = PhaseClosed
	tracks := m.tracks
	m.tracks = make(map[string]Track)
	dc, t := m.channel, m.transport
	m.channel, m.transport = nil, nil
	m.channelOpen = false
	m.inbound, m.outbound = nil, nil
	m.offerOut = false
	close(m.done)
	m.mu.Unlock()

	for _, tr := range tracks {
		tr.Stop()
	}
	if dc != nil {
		_ = dc.Close()
	}
	var err error
	if t != nil {
		err = t.Close()
	}
	m.log.Info("negotiation closed")
	if m.hooks.OnPhase != nil {
		m.hooks.OnPhase(PhaseClosed)
	}
	return err
}

func (m *Machine) begin(other protocol.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseClosed:
		return ErrClosed
	case PhaseIdle:
		m.other = other
		return nil
	default:
		return fmt.Errorf("%w (phase %s)", ErrBusy, m.phase)
	}
}

// prepare acquires media, creates the transport and attaches the tracks.
// Failures before the transport exists return the machine to IDLE.
func (m *Machine) prepare(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	kinds := append([]string(nil), m.kinds...)
	m.mu.Unlock()

	acquired := make([]Track, 0, len(kinds))
	for _, kind := range kinds {
		tr, err := m.cfg.Media.Acquire(ctx, kind)
		if err != nil {
			stopAll(acquired)
			m.log.Error("media acquisition failed; negotiation aborted", "kind", kind, "err", err)
			return nil, &MediaAcquisitionError{Kind: kind, Err: err}
		}
		acquired = append(acquired, tr)
	}

	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		stopAll(acquired)
		return nil, ErrClosed
	}
	for _, tr := range acquired {
		m.tracks[tr.Kind()] = tr
	}
	m.mu.Unlock()
	if !m.setPhase(PhaseMediaAcquired) {
		return nil, ErrClosed
	}

	t, err := m.cfg.Transports.NewTransport()
	if err != nil {
		m.abort()
		m.log.Error("create transport failed; negotiation aborted", "err", err)
		return nil, &NegotiationError{Step: "create transport", Phase: PhaseMediaAcquired, Err: err}
	}
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		_ = t.Close()
		return nil, ErrClosed
	}
	m.transport = t
	m.mu.Unlock()
	go m.watch(t)

	for _, tr := range acquired {
		if err := t.AddTrack(tr); err != nil {
			return nil, m.fail("add "+tr.Kind()+" track", err)
		}
	}
	return t, nil
}

// abort releases the tracks of a negotiation that never got a transport.
func (m *Machine) abort() {
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return
	}
	tracks := m.tracks
	m.tracks = make(map[string]Track)
	m.mu.Unlock()
	for _, tr := range tracks {
		tr.Stop()
	}
	m.setPhase(PhaseIdle)
}

// applyBuffered latches the ICE state to APPLYING and drains the buffered
// candidates in arrival order. Callers hold opMu, so HandleCandidates cannot
// interleave.
func (m *Machine) applyBuffered(t Transport) {
	m.mu.Lock()
	m.ice = ICEApplying
	pending := m.inbound
	m.inbound = nil
	m.mu.Unlock()

	if len(pending) > 0 {
		m.log.Debug("draining buffered candidates", "count", len(pending))
	}
	for _, c := range pending {
		m.addCandidate(t, c)
	}
}

func (m *Machine) addCandidate(t Transport, c protocol.Candidate) {
	if err := t.AddCandidate(c); err != nil {
		m.log.Warn("apply remote candidate failed", "err", &NegotiationError{Step: "add candidate", Phase: m.Phase(), Err: err})
	}
}

// flushOutbound sends the local candidates gathered so far as one batch.
// Candidates gathered afterwards go out together once gathering completes.
func (m *Machine) flushOutbound(ctx context.Context) error {
	m.mu.Lock()
	m.flushed = true
	batch := m.outbound
	m.outbound = nil
	m.mu.Unlock()
	return m.sendCandidates(ctx, batch)
}

func (m *Machine) sendCandidates(ctx context.Context, batch []protocol.Candidate) error {
	if len(batch) == 0 {
		return nil
	}
	return m.send(ctx, protocol.NegotiationMessage{
		Type:        protocol.TypeICECandidates,
		OtherUserID: m.Other(),
		Candidates:  batch,
	})
}

// renegotiate offers again after a track change. Outside CONNECTED it does
// nothing.
func (m *Machine) renegotiate(ctx context.Context, t Transport) error {
	m.mu.Lock()
	phase, other := m.phase, m.other
	m.mu.Unlock()
	if phase != PhaseConnected {
		m.log.Debug("renegotiation skipped", "phase", phase)
		return nil
	}

	offer, err := t.CreateOffer()
	if err != nil {
		return m.fail("create renegotiation offer", err)
	}
	if err := t.SetLocalDescription(offer); err != nil {
		return m.fail("set local renegotiation offer", err)
	}
	m.mu.Lock()
	m.offerOut = true
	m.mu.Unlock()
	return m.send(ctx, protocol.NegotiationMessage{
		Type:        protocol.TypeRenegotiationOffer,
		OtherUserID: other,
		Offer:       &offer,
	})
}

func (m *Machine) send(ctx context.Context, msg protocol.NegotiationMessage) error {
	if err := m.cfg.Signaler.Send(ctx, msg); err != nil {
		return m.fail("send "+string(msg.Type), err)
	}
	m.log.Debug("negotiation sent", "type", msg.Type, "to", msg.OtherUserID)
	return nil
}

// fail logs a NegotiationError and returns it. The phase is not changed.
func (m *Machine) fail(step string, err error) error {
	nerr := &NegotiationError{Step: step, Phase: m.Phase(), Err: err}
	m.log.Warn("negotiation step failed", "err", nerr)
	return nerr
}

func (m *Machine) current() (Transport, Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport, m.phase
}

// setPhase moves to p and notifies the hook. It reports false once closed.
func (m *Machine) setPhase(p Phase) bool {
	m.mu.Lock()
	prev := m.phase
	if prev == PhaseClosed {
		m.mu.Unlock()
		return false
	}
	m.phase = p
	m.mu.Unlock()

	if prev != p {
		m.log.Info("negotiation phase", "from", prev, "to", p)
		if m.hooks.OnPhase != nil {
			m.hooks.OnPhase(p)
		}
	}
	return true
}

func stopAll(tracks []Track) {
	for _, tr := range tracks {
		tr.Stop()
	}
}

func addKind(kinds []string, kind string) []string {
	for _, k := range kinds {
		if k == kind {
			return kinds
		}
	}
	return append(kinds, kind)
}

func removeKind(kinds []string, kind string) []string {
	out := kinds[:0]
	for _, k := range kinds {
		if k != kind {
			out = append(out, k)
		}
	}
	return out
}
