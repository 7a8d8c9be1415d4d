package negotiation

import (
	"context"

	"github.com/Greed71/webRTC/internal/protocol"
)

// Phase is the negotiation lifecycle position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMediaAcquired
	PhaseOffering
	PhaseAnswering
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseMediaAcquired:
		return "MEDIA_ACQUIRED"
	case PhaseOffering:
		return "OFFERING"
	case PhaseAnswering:
		return "ANSWERING"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ICEState is the inbound candidate latch. It only ever moves from
// ICEBuffering to ICEApplying.
type ICEState int

const (
	ICEBuffering ICEState = iota
	ICEApplying
)

func (s ICEState) String() string {
	if s == ICEApplying {
		return "APPLYING"
	}
	return "BUFFERING"
}

// Media kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// ChatLabel is the label of the data channel the initiator opens.
const ChatLabel = "chat"

// ConnectionState mirrors the peer connection states a Transport reports.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Track is a local media track.
type Track interface {
	ID() string
	Kind() string
	// Stop releases the underlying capture. It is safe to call more than once.
	Stop()
}

// MediaSource acquires local media, one track per kind.
type MediaSource interface {
	Acquire(ctx context.Context, kind string) (Track, error)
}

// DataChannel is an open or opening data channel.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	Close() error
}

// RemoteTrack describes a track received from the peer.
type RemoteTrack struct {
	ID   string
	Kind string
}

// Transport is the peer connection the machine negotiates over.
type Transport interface {
	CreateOffer() (protocol.SessionDescription, error)
	CreateAnswer() (protocol.SessionDescription, error)
	SetLocalDescription(desc protocol.SessionDescription) error
	SetRemoteDescription(desc protocol.SessionDescription) error
	// Rollback discards an outstanding local offer.
	Rollback() error
	AddCandidate(c protocol.Candidate) error

	AddTrack(t Track) error
	RemoveTrack(t Track) error
	CreateDataChannel(label string) (DataChannel, error)

	// Events delivers transport events in the order they occur.
	Events() <-chan Event
	Close() error
}

// TransportFactory creates one Transport per negotiation.
type TransportFactory interface {
	NewTransport() (Transport, error)
}

// Signaler delivers negotiation messages to the other participant.
type Signaler interface {
	Send(ctx context.Context, msg protocol.NegotiationMessage) error
}

// Event is one of the Event* types below.
type Event interface {
	isEvent()
}

type (
	EventConnectionState struct{ State ConnectionState }
	EventLocalCandidate  struct{ Candidate protocol.Candidate }
	// EventGatheringComplete follows the last EventLocalCandidate.
	EventGatheringComplete struct{}
	EventRemoteTrack       struct{ Track RemoteTrack }
	// EventDataChannel announces a data channel, local or inbound, that is
	// now open.
	EventDataChannel        struct{ Channel DataChannel }
	EventDataChannelMessage struct {
		Label string
		Data  []byte
	}
)

func (EventConnectionState) isEvent()    {}
func (EventLocalCandidate) isEvent()     {}
func (EventGatheringComplete) isEvent()  {}
func (EventRemoteTrack) isEvent()        {}
func (EventDataChannel) isEvent()        {}
func (EventDataChannelMessage) isEvent() {}

// Hooks observe the machine. Any may be nil. They run on the goroutine that
// caused the change and must not call back into the Machine synchronously.
type Hooks struct {
	OnPhase           func(Phase)
	OnRemoteTrack     func(RemoteTrack)
	OnDataChannelOpen func(DataChannel)
	OnMessage         func(data []byte)
}
