package metrics

import "sync"

// Event names. Each is exported as one value of the `event` label.
const (
	ConnectionOpened   = "connection_opened"
	ConnectionClosed   = "connection_closed"
	ConnectionEvicted  = "connection_evicted_duplicate_id"
	ConnectionRejected = "connection_rejected_duplicate_id"

	RoomCreated        = "room_created"
	RoomCreateFailed   = "room_create_failed"
	RoomDestroyed      = "room_destroyed"
	RoomDestroyFailed  = "room_destroy_failed"
	RoomDeletedEmpty   = "room_deleted_empty"
	RoomJoined         = "room_joined"
	RoomJoinFailed     = "room_join_failed"
	RoomExited         = "room_exited"
	RoomExitNoop       = "room_exit_noop"
	RoomSlotDisconnect = "room_slot_disconnected"

	NegotiationRelayed = "negotiation_relayed"
	DeliveryFailed     = "delivery_failed"
	ProtocolError      = "protocol_error"

	DropReasonRateLimited     = "rate_limited"
	DropReasonMessageTooLarge = "message_too_large"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// every update so components can run without one in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
