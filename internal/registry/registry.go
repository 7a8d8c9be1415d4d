// Package registry maps participant identifiers to their live duplex
// channels.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
)

// Channel is the server's handle on one participant connection.
type Channel interface {
	// Send queues env for delivery. It must not block.
	Send(env protocol.Envelope) error
	// Evict closes the channel because another connection took over its id.
	Evict(reason string)
}

// DuplicatePolicy decides what Register does when the id is already taken.
type DuplicatePolicy string

const (
	// DuplicateEvict replaces the old record and closes its channel.
	DuplicateEvict DuplicatePolicy = "evict"
	// DuplicateReject refuses the new channel.
	DuplicateReject DuplicatePolicy = "reject"
)

func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(raw) {
	case DuplicateEvict, DuplicateReject:
		return DuplicatePolicy(raw), nil
	default:
		return "", fmt.Errorf("invalid duplicate id policy %q (expected %q or %q)", raw, DuplicateEvict, DuplicateReject)
	}
}

var (
	ErrDuplicateID = errors.New("participant id already connected")
	ErrEmptyID     = errors.New("participant id must not be empty")
)

type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	policy  DuplicatePolicy

	mu    sync.RWMutex
	conns map[protocol.ID]Channel
}

func New(policy DuplicatePolicy, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = DuplicateEvict
	}
	return &Registry{
		log:     logger,
		metrics: m,
		policy:  policy,
		conns:   make(map[protocol.ID]Channel),
	}
}

func (r *Registry) Policy() DuplicatePolicy { return r.policy }

// Register records ch as the channel for id. Under DuplicateEvict the newest
// registration wins and the previous channel is evicted.
func (r *Registry) Register(id protocol.ID, ch Channel) error {
	if id == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	prev, exists := r.conns[id]
	if exists && r.policy == DuplicateReject {
		r.mu.Unlock()
		r.metrics.Inc(metrics.ConnectionRejected)
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.conns[id] = ch
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.Inc(metrics.ConnectionOpened)
	if exists && prev != ch {
		r.metrics.Inc(metrics.ConnectionEvicted)
		r.log.Warn("participant id re-registered; evicting previous connection", "user_id", id)
		prev.Evict("participant id connected elsewhere")
	}
	r.log.Debug("participant registered", "user_id", id, "connections", n)
	return nil
}

// Unregister removes id if it is still bound to ch. A record that is missing
// or owned by a newer channel is left alone and false is returned.
func (r *Registry) Unregister(id protocol.ID, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.conns[id]
	if ok && cur == ch {
		delete(r.conns, id)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok || cur != ch {
		r.log.Warn("unregister: participant not found", "user_id", id)
		return false
	}
	r.metrics.Inc(metrics.ConnectionClosed)
	r.log.Debug("participant unregistered", "user_id", id, "connections", n)
	return true
}

func (r *Registry) Resolve(id protocol.ID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[id]
	return ch, ok
}

// Deliver sends env to id, fire and forget. Failures are logged and counted
// but never reported back to the originator.
func (r *Registry) Deliver(id protocol.ID, env protocol.Envelope) bool {
	ch, ok := r.Resolve(id)
	if !ok {
		r.metrics.Inc(metrics.DeliveryFailed)
		r.log.Warn("delivery dropped: participant not connected", "user_id", id, "label", env.Label)
		return false
	}
	if err := ch.Send(env); err != nil {
		r.metrics.Inc(metrics.DeliveryFailed)
		r.log.Warn("delivery dropped", "user_id", id, "label", env.Label, "err", err)
		return false
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []protocol.ID {
	r.mu.RLock()
	ids := make([]protocol.ID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
