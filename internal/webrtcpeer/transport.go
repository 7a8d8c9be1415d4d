package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Greed71/webRTC/internal/negotiation"
	"github.com/Greed71/webRTC/internal/protocol"
)

const eventQueue = 256

var errForeignTrack = errors.New("track was not created by webrtcpeer")

// Factory creates one PeerConnection-backed Transport per negotiation.
type Factory struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

var _ negotiation.TransportFactory = (*Factory)(nil)

func (f *Factory) NewTransport() (negotiation.Transport, error) {
	api := f.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.ICEServers})
	if err != nil {
		return nil, err
	}
	return newTransport(pc, logger), nil
}

// Transport wraps a PeerConnection. pion callbacks are turned into
// negotiation events in the order pion raises them.
type Transport struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	events chan negotiation.Event
	done   chan struct{}

	mu        sync.Mutex
	senders   map[string]*webrtc.RTPSender
	closeOnce sync.Once
	closeErr  error
}

var _ negotiation.Transport = (*Transport)(nil)

func newTransport(pc *webrtc.PeerConnection, logger *slog.Logger) *Transport {
	t := &Transport{
		pc:      pc,
		log:     logger,
		events:  make(chan negotiation.Event, eventQueue),
		done:    make(chan struct{}),
		senders: make(map[string]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			t.emit(negotiation.EventGatheringComplete{})
			return
		}
		t.emit(negotiation.EventLocalCandidate{Candidate: candidateFromPion(c.ToJSON())})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.emit(negotiation.EventConnectionState{State: negotiation.ConnectionState(state.String())})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.emit(negotiation.EventRemoteTrack{Track: negotiation.RemoteTrack{
			ID:   remote.ID(),
			Kind: remote.Kind().String(),
		}})
		// Drain RTP so pion's buffers never fill.
		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.bind(dc)
	})
	return t
}

// emit queues ev unless the transport is closed. It blocks when the
// consumer falls behind so that no candidate is lost.
func (t *Transport) emit(ev negotiation.Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *Transport) Events() <-chan negotiation.Event { return t.events }

func (t *Transport) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return descriptionFromPion(offer), nil
}

func (t *Transport) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	return descriptionFromPion(answer), nil
}

func (t *Transport) SetLocalDescription(desc protocol.SessionDescription) error {
	sd, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(sd)
}

func (t *Transport) SetRemoteDescription(desc protocol.SessionDescription) error {
	sd, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(sd)
}

func (t *Transport) Rollback() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *Transport) AddCandidate(c protocol.Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *Transport) AddTrack(track negotiation.Track) error {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return errForeignTrack
	}
	sender, err := t.pc.AddTrack(lt.Local())
	if err != nil {
		return fmt.Errorf("add %s track: %w", lt.Kind(), err)
	}
	t.mu.Lock()
	t.senders[lt.ID()] = sender
	t.mu.Unlock()

	// Read RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *Transport) RemoveTrack(track negotiation.Track) error {
	t.mu.Lock()
	sender, ok := t.senders[track.ID()]
	delete(t.senders, track.ID())
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.pc.RemoveTrack(sender)
}

func (t *Transport) CreateDataChannel(label string) (negotiation.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return t.bind(dc), nil
}

// bind forwards a data channel's open and message callbacks as events.
func (t *Transport) bind(dc *webrtc.DataChannel) *DataChannel {
	ch := &DataChannel{dc: dc}
	dc.OnOpen(func() {
		t.emit(negotiation.EventDataChannel{Channel: ch})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Copy because pion reuses internal buffers.
		data := append([]byte(nil), msg.Data...)
		t.emit(negotiation.EventDataChannelMessage{Label: dc.Label(), Data: data})
	})
	return ch
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// DataChannel wraps a pion data channel.
type DataChannel struct {
	dc *webrtc.DataChannel
}

func (c *DataChannel) Label() string          { return c.dc.Label() }
func (c *DataChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *DataChannel) Close() error           { return c.dc.Close() }

func descriptionFromPion(sd webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func descriptionToPion(desc protocol.SessionDescription) (webrtc.SessionDescription, error) {
	typ := webrtc.NewSDPType(desc.Type)
	if typ == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown session description type %q", desc.Type)
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}, nil
}

func candidateFromPion(c webrtc.ICECandidateInit) protocol.Candidate {
	return protocol.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
