package negotiation

import (
	"context"

	"github.com/Greed71/webRTC/internal/protocol"
)

// watch consumes t's events until the transport closes its channel or the
// machine is closed.
func (m *Machine) watch(t Transport) {
	events := t.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-m.done:
			return
		}
	}
}

func (m *Machine) handleEvent(ev Event) {
	switch ev := ev.(type) {
	case EventConnectionState:
		m.onConnectionState(ev.State)
	case EventLocalCandidate:
		m.onLocalCandidate(ev)
	case EventGatheringComplete:
		m.onGatheringComplete()
	case EventRemoteTrack:
		m.log.Info("remote track", "kind", ev.Track.Kind, "track_id", ev.Track.ID)
		if m.hooks.OnRemoteTrack != nil {
			m.hooks.OnRemoteTrack(ev.Track)
		}
	case EventDataChannel:
		m.onDataChannel(ev.Channel)
	case EventDataChannelMessage:
		if ev.Label != ChatLabel {
			return
		}
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(ev.Data)
		}
	}
}

func (m *Machine) onConnectionState(state ConnectionState) {
	switch state {
	case ConnectionConnected:
		m.mu.Lock()
		phase := m.phase
		m.mu.Unlock()
		if phase == PhaseOffering || phase == PhaseAnswering {
			m.setPhase(PhaseConnected)
		}
	case ConnectionFailed, ConnectionClosed:
		// No automatic teardown; the user decides whether to exit.
		m.log.Warn("peer connection ended", "state", state)
	default:
		m.log.Debug("peer connection state", "state", state)
	}
}

func (m *Machine) onLocalCandidate(ev EventLocalCandidate) {
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return
	}
	if !m.flushed || !m.gathered {
		m.outbound = append(m.outbound, ev.Candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	_ = m.sendCandidates(context.Background(), []protocol.Candidate{ev.Candidate})
}

func (m *Machine) onGatheringComplete() {
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		return
	}
	m.gathered = true
	var late []protocol.Candidate
	if m.flushed {
		late = m.outbound
		m.outbound = nil
	}
	m.mu.Unlock()

	if len(late) > 0 {
		m.log.Debug("sending late candidates", "count", len(late))
		_ = m.sendCandidates(context.Background(), late)
	}
}

// onDataChannel records an open data channel. The responder learns of the
// chat channel this way.
func (m *Machine) onDataChannel(dc DataChannel) {
	if dc.Label() != ChatLabel {
		_ = dc.Close()
		return
	}
	m.mu.Lock()
	if m.phase == PhaseClosed {
		m.mu.Unlock()
		_ = dc.Close()
		return
	}
	m.channel = dc
	m.channelOpen = true
	m.mu.Unlock()

	m.log.Info("data channel open", "label", dc.Label())
	if m.hooks.OnDataChannelOpen != nil {
		m.hooks.OnDataChannelOpen(dc)
	}
}
