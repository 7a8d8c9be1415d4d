// Package room owns the set of two-slot rooms and the pairing rules between
// their occupants.
package room

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
)

// Notifier delivers room notifications to a participant. Delivery is best
// effort; the broker never acts on the result.
type Notifier interface {
	Deliver(id protocol.ID, env protocol.Envelope) bool
}

// Room is a snapshot of one room. An empty slot holds "".
type Room struct {
	Name  string
	SlotA protocol.ID
	SlotB protocol.ID
}

// Occupants lists the occupied slots, slot A first.
func (r Room) Occupants() []protocol.ID {
	out := make([]protocol.ID, 0, 2)
	for _, id := range []protocol.ID{r.SlotA, r.SlotB} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

type room struct {
	name  string
	slots [2]protocol.ID
}

func (r *room) snapshot() Room {
	return Room{Name: r.name, SlotA: r.slots[0], SlotB: r.slots[1]}
}

func (r *room) empty() bool {
	return r.slots[0] == "" && r.slots[1] == ""
}

// slotOf returns the slot index holding id, or -1.
func (r *room) slotOf(id protocol.ID) int {
	for i, occupant := range r.slots {
		if occupant == id {
			return i
		}
	}
	return -1
}

// Broker serialises every room mutation behind one mutex. Notifications are
// handed to the Notifier while the lock is held, so each participant observes
// them in the order the transitions happened.
type Broker struct {
	log     *slog.Logger
	notify  Notifier
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*room
}

func NewBroker(notify Notifier, logger *slog.Logger, m *metrics.Metrics) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		log:     logger,
		notify:  notify,
		metrics: m,
		rooms:   make(map[string]*room),
	}
}

func (b *Broker) Create(name string, creator protocol.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rooms[name]; ok {
		b.metrics.Inc(metrics.RoomCreateFailed)
		return newError(ErrDuplicateRoom, name)
	}
	b.rooms[name] = &room{name: name, slots: [2]protocol.ID{creator, ""}}
	b.metrics.Inc(metrics.RoomCreated)
	b.log.Info("room created", "room", name, "user_id", creator)
	return nil
}

// Destroy removes the room regardless of who is inside. Occupants are not
// notified.
func (b *Broker) Destroy(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[name]
	if !ok {
		b.metrics.Inc(metrics.RoomDestroyFailed)
		return newError(ErrRoomNotFound, name)
	}
	delete(b.rooms, name)
	b.metrics.Inc(metrics.RoomDestroyed)
	b.log.Info("room destroyed", "room", name, "occupants", len(r.snapshot().Occupants()))
	return nil
}

// Join places id in the first free slot of the room and returns the other
// occupant, or "" when the joiner is alone. On success the joiner receives
// JOIN_SUCCESS and the other occupant, if any, JOIN_NOTIFY.
func (b *Broker) Join(name string, id protocol.ID) (protocol.ID, error) {
	if id == "" {
		return "", fmt.Errorf("join %s: empty participant id", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[name]
	if !ok {
		b.metrics.Inc(metrics.RoomJoinFailed)
		return "", newError(ErrRoomNotFound, name)
	}

	slot := r.slotOf(id)
	rejoin := slot >= 0
	if !rejoin {
		slot = r.slotOf("")
		if slot < 0 {
			b.metrics.Inc(metrics.RoomJoinFailed)
			return "", newError(ErrRoomFull, name)
		}
		r.slots[slot] = id
	}
	other := r.slots[1-slot]

	b.metrics.Inc(metrics.RoomJoined)
	b.log.Info("room joined", "room", name, "user_id", id, "slot", slotName(slot), "other_user_id", other)

	b.send(id, protocol.RoomMessage{
		Type:        protocol.TypeJoinSuccess,
		RoomName:    name,
		OtherUserID: other,
		Message:     fmt.Sprintf("User ID: %s joined room: %s successfully.", id, name),
	})
	// The other occupant already knows about a participant that rejoins.
	if other != "" && !rejoin {
		b.send(other, protocol.RoomMessage{
			Type:     protocol.TypeJoinNotify,
			RoomName: name,
			JoineeID: id,
			Message:  fmt.Sprintf("User %s has joined the room.", id),
		})
	}
	return other, nil
}

// Exit frees the slot held by id. Exiting a room one is not in is a logged
// no-op. The last occupant leaving deletes the room without notification;
// otherwise the remaining occupant receives EXIT_NOTIFY.
func (b *Broker) Exit(name string, id protocol.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[name]
	if !ok {
		b.metrics.Inc(metrics.RoomExitNoop)
		b.log.Warn("exit: room does not exist", "room", name, "user_id", id)
		return
	}
	slot := r.slotOf(id)
	if slot < 0 || id == "" {
		b.metrics.Inc(metrics.RoomExitNoop)
		b.log.Warn("exit: participant is not in room", "room", name, "user_id", id)
		return
	}
	r.slots[slot] = ""
	b.metrics.Inc(metrics.RoomExited)
	b.log.Info("room exited", "room", name, "user_id", id, "slot", slotName(slot))

	if r.empty() {
		delete(b.rooms, name)
		b.metrics.Inc(metrics.RoomDeletedEmpty)
		b.log.Info("room removed: all occupants exited", "room", name)
		return
	}

	b.send(r.slots[1-slot], protocol.RoomMessage{
		Type:         protocol.TypeExitNotify,
		RoomName:     name,
		ExitedUserID: id,
		Message:      fmt.Sprintf("User ID: %s has exited the room. Another user can now join", id),
	})
}

// Disconnect clears id from every room it occupies. The caller must have
// removed id from the connection registry first. Each remaining occupant
// receives DISCONNECT_NOTIFY and rooms left empty are deleted.
func (b *Broker) Disconnect(id protocol.ID) {
	if id == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, r := range b.rooms {
		slot := r.slotOf(id)
		if slot < 0 {
			continue
		}
		r.slots[slot] = ""
		b.metrics.Inc(metrics.RoomSlotDisconnect)
		b.log.Info("room slot freed by disconnect", "room", name, "user_id", id, "slot", slotName(slot))

		if other := r.slots[1-slot]; other != "" {
			b.send(other, protocol.RoomMessage{
				Type:               protocol.TypeDisconnectNotify,
				RoomName:           name,
				DisconnectedUserID: id,
				Message:            fmt.Sprintf("User ID: %s has disconnected.", id),
			})
		}
		if r.empty() {
			delete(b.rooms, name)
			b.metrics.Inc(metrics.RoomDeletedEmpty)
			b.log.Info("room removed: all occupants disconnected", "room", name)
		}
	}
}

func (b *Broker) Lookup(name string) (Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[name]
	if !ok {
		return Room{}, false
	}
	return r.snapshot(), true
}

// Rooms returns a snapshot of every room sorted by name.
func (b *Broker) Rooms() []Room {
	b.mu.Lock()
	out := make([]Room, 0, len(b.rooms))
	for _, r := range b.rooms {
		out = append(out, r.snapshot())
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

func (b *Broker) send(to protocol.ID, msg protocol.RoomMessage) {
	if b.notify == nil {
		return
	}
	env, err := protocol.NewRoomEnvelope(msg)
	if err != nil {
		b.log.Error("encode room notification", "type", msg.Type, "err", err)
		return
	}
	b.notify.Deliver(to, env)
}

func slotName(i int) string {
	if i == 0 {
		return "A"
	}
	return "B"
}
