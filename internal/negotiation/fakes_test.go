package negotiation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Greed71/webRTC/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// opLog records teardown and transport calls across fakes in order.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...any) {
	l.mu.Lock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeTrack struct {
	kind string
	log  *opLog

	mu      sync.Mutex
	stopped int
}

func (t *fakeTrack) ID() string   { return t.kind + "-track" }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
	t.log.add("stop %s", t.kind)
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeMedia struct {
	log  *opLog
	fail map[string]error
	// gate, when set, blocks Acquire until closed. entered, when set, is
	// signalled before blocking.
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	tracks []*fakeTrack
}

func (m *fakeMedia) Acquire(ctx context.Context, kind string) (Track, error) {
	if m.gate != nil {
		if m.entered != nil {
			m.entered <- struct{}{}
		}
		<-m.gate
	}
	if err := m.fail[kind]; err != nil {
		return nil, err
	}
	tr := &fakeTrack{kind: kind, log: m.log}
	m.mu.Lock()
	m.tracks = append(m.tracks, tr)
	m.mu.Unlock()
	return tr, nil
}

func (m *fakeMedia) acquired() []*fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeTrack(nil), m.tracks...)
}

type fakeChannel struct {
	label string
	log   *opLog

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.log.add("close channel %s", c.label)
	return nil
}

// fakeTransport emulates a peer connection. Setting a local description
// "gathers" the configured candidates followed by gathering complete. Once
// both descriptions are set and a remote candidate has been applied it
// reports connected.
type fakeTransport struct {
	name    string
	log     *opLog
	gather  []string
	events  chan Event
	failSet map[string]error // keyed by "local" or "remote"

	mu          sync.Mutex
	seq         int
	local       *protocol.SessionDescription
	remote      *protocol.SessionDescription
	applied     []string
	tracks      map[string]bool
	channels    []*fakeChannel
	rollbacks   int
	connected   bool
	gatheredOne bool
	closed      bool
}

func newFakeTransport(name string, log *opLog, gather ...string) *fakeTransport {
	return &fakeTransport{
		name:   name,
		log:    log,
		gather: gather,
		events: make(chan Event, 64),
		tracks: make(map[string]bool),
	}
}

func (t *fakeTransport) description(typ string) protocol.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return protocol.SessionDescription{Type: typ, SDP: fmt.Sprintf("v=0 %s %s %d", t.name, typ, t.seq)}
}

func (t *fakeTransport) CreateOffer() (protocol.SessionDescription, error) {
	return t.description("offer"), nil
}

func (t *fakeTransport) CreateAnswer() (protocol.SessionDescription, error) {
	t.mu.Lock()
	hasRemote := t.remote != nil && t.remote.Type == "offer"
	t.mu.Unlock()
	if !hasRemote {
		return protocol.SessionDescription{}, errors.New("no remote offer")
	}
	return t.description("answer"), nil
}

func (t *fakeTransport) SetLocalDescription(desc protocol.SessionDescription) error {
	if err := t.failSet["local"]; err != nil {
		return err
	}
	t.mu.Lock()
	t.local = &desc
	first := !t.gatheredOne
	t.gatheredOne = true
	t.mu.Unlock()
	t.log.add("%s set local %s", t.name, desc.Type)

	if first {
		for _, c := range t.gather {
			t.events <- EventLocalCandidate{Candidate: protocol.Candidate{Candidate: c}}
		}
		if len(t.gather) > 0 {
			t.events <- EventGatheringComplete{}
		}
	}
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc protocol.SessionDescription) error {
	if err := t.failSet["remote"]; err != nil {
		return err
	}
	t.mu.Lock()
	t.remote = &desc
	t.mu.Unlock()
	t.log.add("%s set remote %s", t.name, desc.Type)
	t.maybeConnect()
	return nil
}

func (t *fakeTransport) Rollback() error {
	t.mu.Lock()
	t.local = nil
	t.rollbacks++
	t.mu.Unlock()
	t.log.add("%s rollback", t.name)
	return nil
}

func (t *fakeTransport) AddCandidate(c protocol.Candidate) error {
	t.mu.Lock()
	if t.remote == nil {
		t.mu.Unlock()
		return errors.New("remote description not set")
	}
	t.applied = append(t.applied, c.Candidate)
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *fakeTransport) maybeConnect() {
	t.mu.Lock()
	ready := !t.connected && !t.closed && t.local != nil && t.remote != nil && len(t.applied) > 0
	if ready {
		t.connected = true
	}
	t.mu.Unlock()
	if ready {
		t.events <- EventConnectionState{State: ConnectionConnected}
	}
}

func (t *fakeTransport) AddTrack(tr Track) error {
	t.mu.Lock()
	t.tracks[tr.Kind()] = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) RemoveTrack(tr Track) error {
	t.mu.Lock()
	delete(t.tracks, tr.Kind())
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	dc := &fakeChannel{label: label, log: t.log}
	t.mu.Lock()
	t.channels = append(t.channels, dc)
	t.mu.Unlock()
	return dc, nil
}

func (t *fakeTransport) Events() <-chan Event { return t.events }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.mu.Unlock()
	if !already {
		t.log.add("close transport %s", t.name)
	}
	return nil
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.applied...)
}

func (t *fakeTransport) trackKinds() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.tracks))
	for k := range t.tracks {
		out[k] = true
	}
	return out
}

func (t *fakeTransport) rollbackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	created    int
	err        error
}

func (f *fakeFactory) NewTransport() (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.created >= len(f.transports) {
		return nil, errors.New("no transport configured")
	}
	t := f.transports[f.created]
	f.created++
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// recorder is a Signaler that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.NegotiationMessage
}

func (r *recorder) Send(ctx context.Context, msg protocol.NegotiationMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) sent() []protocol.NegotiationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.NegotiationMessage(nil), r.msgs...)
}

func (r *recorder) types() []protocol.Type {
	var out []protocol.Type
	for _, m := range r.sent() {
		out = append(out, m.Type)
	}
	return out
}

// network delivers messages between machines in send order on one
// goroutine, the way a participant's router reads its channel.
type network struct {
	msgs chan routed
	stop chan struct{}

	mu       sync.Mutex
	machines map[protocol.ID]*Machine
	errs     []error
}

type routed struct {
	from protocol.ID
	msg  protocol.NegotiationMessage
}

func newNetwork(t *testing.T) *network {
	n := &network{
		msgs:     make(chan routed, 64),
		stop:     make(chan struct{}),
		machines: make(map[protocol.ID]*Machine),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case r := <-n.msgs:
				n.deliver(r)
			case <-n.stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(n.stop)
		<-done
	})
	return n
}

func (n *network) attach(id protocol.ID, m *Machine) {
	n.mu.Lock()
	n.machines[id] = m
	n.mu.Unlock()
}

func (n *network) signaler(self protocol.ID) Signaler {
	return signalerFunc(func(ctx context.Context, msg protocol.NegotiationMessage) error {
		select {
		case n.msgs <- routed{from: self, msg: msg}:
			return nil
		case <-n.stop:
			return errors.New("network stopped")
		}
	})
}

func (n *network) deliver(r routed) {
	n.mu.Lock()
	m := n.machines[r.msg.OtherUserID]
	n.mu.Unlock()

	err := m.Handle(context.Background(), r.from, r.msg)
	if err != nil {
		n.mu.Lock()
		n.errs = append(n.errs, err)
		n.mu.Unlock()
	}
}

func (n *network) failures() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.errs...)
}

type signalerFunc func(ctx context.Context, msg protocol.NegotiationMessage) error

func (f signalerFunc) Send(ctx context.Context, msg protocol.NegotiationMessage) error {
	return f(ctx, msg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func candidates(values ...string) []protocol.Candidate {
	out := make([]protocol.Candidate, 0, len(values))
	for _, v := range values {
		out = append(out, protocol.Candidate{Candidate: v})
	}
	return out
}

func candidateValues(cs []protocol.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Candidate)
	}
	return out
}

func (m *Machine) pendingOutbound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}
