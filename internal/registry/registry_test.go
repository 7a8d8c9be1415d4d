package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []protocol.Envelope
	evicted []string
	sendErr error
}

func (c *fakeChannel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Evict(reason string) {
	c.mu.Lock()
	c.evicted = append(c.evicted, reason)
	c.mu.Unlock()
}

func newTestRegistry(policy DuplicatePolicy) (*Registry, *metrics.Metrics) {
	m := metrics.New()
	return New(policy, slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func TestRegistry_EvictPolicyLastWriteWins(t *testing.T) {
	r, m := newTestRegistry(DuplicateEvict)
	first, second := &fakeChannel{}, &fakeChannel{}

	if err := r.Register("1", first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := r.Register("1", second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	got, ok := r.Resolve("1")
	if !ok || got != second {
		t.Fatalf("resolve returned %v ok=%v, want second channel", got, ok)
	}
	if len(first.evicted) != 1 {
		t.Fatalf("first evictions=%d, want 1", len(first.evicted))
	}
	if m.Get(metrics.ConnectionEvicted) != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ConnectionEvicted, m.Get(metrics.ConnectionEvicted))
	}

	// The evicted channel closing later must not remove the newer record.
	if r.Unregister("1", first) {
		t.Fatalf("unregister with stale channel removed the record")
	}
	if _, ok := r.Resolve("1"); !ok {
		t.Fatalf("record lost after stale unregister")
	}
}

func TestRegistry_RejectPolicy(t *testing.T) {
	r, m := newTestRegistry(DuplicateReject)
	first := &fakeChannel{}
	if err := r.Register("1", first); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register("1", &fakeChannel{})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err=%v, want ErrDuplicateID", err)
	}
	if got, _ := r.Resolve("1"); got != first {
		t.Fatalf("rejected registration replaced the record")
	}
	if m.Get(metrics.ConnectionRejected) != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ConnectionRejected, m.Get(metrics.ConnectionRejected))
	}
}

func TestRegistry_RegisterEmptyID(t *testing.T) {
	r, _ := newTestRegistry(DuplicateEvict)
	if err := r.Register("", &fakeChannel{}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("err=%v, want ErrEmptyID", err)
	}
}

func TestRegistry_UnregisterMissingIsNoop(t *testing.T) {
	r, _ := newTestRegistry(DuplicateEvict)
	if r.Unregister("ghost", &fakeChannel{}) {
		t.Fatalf("unregister of missing id reported removal")
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d, want 0", r.Len())
	}
}

func TestRegistry_Deliver(t *testing.T) {
	r, m := newTestRegistry(DuplicateEvict)
	ch := &fakeChannel{}
	if err := r.Register("2", ch); err != nil {
		t.Fatalf("register: %v", err)
	}

	env := protocol.Envelope{Label: protocol.LabelRoom, Data: []byte(`{}`)}
	if !r.Deliver("2", env) {
		t.Fatalf("deliver to registered id failed")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent=%d, want 1", len(ch.sent))
	}

	if r.Deliver("3", env) {
		t.Fatalf("deliver to unknown id succeeded")
	}

	ch.sendErr = errors.New("queue full")
	if r.Deliver("2", env) {
		t.Fatalf("deliver with failing channel succeeded")
	}
	if got := m.Get(metrics.DeliveryFailed); got != 2 {
		t.Fatalf("%s=%d, want 2", metrics.DeliveryFailed, got)
	}
}

func TestRegistry_IDsSorted(t *testing.T) {
	r, _ := newTestRegistry(DuplicateEvict)
	for _, id := range []protocol.ID{"c", "a", "b"} {
		if err := r.Register(id, &fakeChannel{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("ids=%v, want [a b c]", ids)
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	if p, err := ParseDuplicatePolicy("reject"); err != nil || p != DuplicateReject {
		t.Fatalf("ParseDuplicatePolicy(reject)=%q, %v", p, err)
	}
	if _, err := ParseDuplicatePolicy("kick"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
