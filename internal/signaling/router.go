package signaling

import (
	"fmt"

	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
	"github.com/Greed71/webRTC/internal/room"
)

// dispatch routes one inbound frame. Malformed or unexpected frames are
// dropped without a reply and the connection stays open.
func (s *Server) dispatch(from *wsSession, frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		s.protocolError(from, err)
		return
	}

	switch env.Label {
	case protocol.LabelRoom:
		s.handleRoomMessage(from, env.Data)
	case protocol.LabelNegotiation:
		s.relayNegotiation(from, env.Data)
	}
}

func (s *Server) handleRoomMessage(from *wsSession, data []byte) {
	msg, err := protocol.DecodeRoomMessage(data)
	if err != nil {
		s.protocolError(from, err)
		return
	}
	// The channel's own id is authoritative; a body may only repeat it.
	if msg.UserID != "" && msg.UserID != from.id {
		s.protocolError(from, fmt.Errorf("%w: userId %q does not match connection", protocol.ErrMalformed, msg.UserID))
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRequest:
		if _, err := s.broker.Join(msg.RoomName, from.id); err != nil {
			s.rejectJoin(from, msg.RoomName, err)
		}
	case protocol.TypeExitRequest:
		s.broker.Exit(msg.RoomName, from.id)
	default:
		s.protocolError(from, fmt.Errorf("%w: %s is not a client request", protocol.ErrMalformed, msg.Type))
	}
}

func (s *Server) rejectJoin(from *wsSession, roomName string, err error) {
	reason, ok := room.Reason(err)
	if !ok {
		from.log.Error("join failed", "room", roomName, "err", err)
		return
	}
	env, encErr := protocol.NewRoomEnvelope(protocol.RoomMessage{
		Type:     protocol.TypeJoinFailure,
		RoomName: roomName,
		Reason:   reason,
		Message:  err.Error(),
	})
	if encErr != nil {
		from.log.Error("encode join failure", "err", encErr)
		return
	}
	from.log.Info("join rejected", "room", roomName, "reason", reason)
	if err := from.Send(env); err != nil {
		s.metrics.Inc(metrics.DeliveryFailed)
		from.log.Warn("delivery dropped", "type", protocol.TypeJoinFailure, "err", err)
	}
}

// relayNegotiation forwards data untouched to otherUserId. Only the type and
// target are inspected.
func (s *Server) relayNegotiation(from *wsSession, data []byte) {
	hdr, err := protocol.DecodeRelayHeader(data)
	if err != nil {
		s.protocolError(from, err)
		return
	}
	if s.registry.Deliver(hdr.OtherUserID, protocol.RelayEnvelope(data)) {
		s.metrics.Inc(metrics.NegotiationRelayed)
		from.log.Debug("negotiation relayed", "type", hdr.Type, "to", hdr.OtherUserID)
	}
}

func (s *Server) protocolError(from *wsSession, err error) {
	s.metrics.Inc(metrics.ProtocolError)
	from.log.Warn("protocol error; message dropped", "err", err)
}
