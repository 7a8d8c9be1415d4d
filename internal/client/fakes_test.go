package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Greed71/webRTC/internal/negotiation"
	"github.com/Greed71/webRTC/internal/protocol"
)

// loopTransport stands in for a peer connection. It reports one local
// candidate after the first local description and connects once both
// descriptions are set and a remote candidate has been applied.
type loopTransport struct {
	name   string
	events chan negotiation.Event

	mu        sync.Mutex
	seq       int
	local     bool
	remote    bool
	applied   int
	gathered  bool
	connected bool
	tracks    map[string]bool
	closed    bool
}

func newLoopTransport(name string) *loopTransport {
	return &loopTransport{
		name:   name,
		events: make(chan negotiation.Event, 64),
		tracks: make(map[string]bool),
	}
}

func (t *loopTransport) desc(typ string) protocol.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return protocol.SessionDescription{Type: typ, SDP: fmt.Sprintf("v=0 %s %d", t.name, t.seq)}
}

func (t *loopTransport) CreateOffer() (protocol.SessionDescription, error) {
	return t.desc("offer"), nil
}

func (t *loopTransport) CreateAnswer() (protocol.SessionDescription, error) {
	return t.desc("answer"), nil
}

func (t *loopTransport) SetLocalDescription(protocol.SessionDescription) error {
	t.mu.Lock()
	t.local = true
	first := !t.gathered
	t.gathered = true
	t.mu.Unlock()
	if first {
		t.events <- negotiation.EventLocalCandidate{Candidate: protocol.Candidate{Candidate: "candidate:" + t.name}}
		t.events <- negotiation.EventGatheringComplete{}
	}
	t.maybeConnect()
	return nil
}

func (t *loopTransport) SetRemoteDescription(protocol.SessionDescription) error {
	t.mu.Lock()
	t.remote = true
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *loopTransport) Rollback() error { return nil }

func (t *loopTransport) AddCandidate(protocol.Candidate) error {
	t.mu.Lock()
	if !t.remote {
		t.mu.Unlock()
		return errors.New("remote description not set")
	}
	t.applied++
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *loopTransport) maybeConnect() {
	t.mu.Lock()
	ready := !t.connected && !t.closed && t.local && t.remote && t.applied > 0
	if ready {
		t.connected = true
	}
	t.mu.Unlock()
	if ready {
		t.events <- negotiation.EventConnectionState{State: negotiation.ConnectionConnected}
	}
}

func (t *loopTransport) AddTrack(tr negotiation.Track) error {
	t.mu.Lock()
	t.tracks[tr.Kind()] = true
	t.mu.Unlock()
	return nil
}

func (t *loopTransport) RemoveTrack(tr negotiation.Track) error {
	t.mu.Lock()
	delete(t.tracks, tr.Kind())
	t.mu.Unlock()
	return nil
}

func (t *loopTransport) CreateDataChannel(label string) (negotiation.DataChannel, error) {
	return nopChannel(label), nil
}

func (t *loopTransport) Events() <-chan negotiation.Event { return t.events }

func (t *loopTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *loopTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type nopChannel string

func (c nopChannel) Label() string        { return string(c) }
func (c nopChannel) Send(data []byte) error { return nil }
func (c nopChannel) Close() error         { return nil }

type loopFactory struct {
	name string

	mu    sync.Mutex
	built []*loopTransport
}

func (f *loopFactory) NewTransport() (negotiation.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newLoopTransport(fmt.Sprintf("%s-%d", f.name, len(f.built)))
	f.built = append(f.built, t)
	return t, nil
}

func (f *loopFactory) transports() []*loopTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*loopTransport(nil), f.built...)
}

type stubTrack struct {
	id, kind string
	stopped  atomic.Bool
}

func (t *stubTrack) ID() string   { return t.id }
func (t *stubTrack) Kind() string { return t.kind }
func (t *stubTrack) Stop()        { t.stopped.Store(true) }

type stubMedia struct {
	n atomic.Int64
}

func (m *stubMedia) Acquire(ctx context.Context, kind string) (negotiation.Track, error) {
	return &stubTrack{id: fmt.Sprintf("%s-%d", kind, m.n.Add(1)), kind: kind}, nil
}
