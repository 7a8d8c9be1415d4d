package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Greed71/webRTC/internal/httpserver"
	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
	"github.com/Greed71/webRTC/internal/registry"
)

const wsWriteWait = 5 * time.Second

var (
	errSessionClosed = errors.New("connection closed")
	errSendQueueFull = errors.New("send queue full")
)

// wsSession is one participant's duplex channel. A single goroutine reads and
// dispatches frames in arrival order; writePump owns every data write.
type wsSession struct {
	srv  *Server
	id   protocol.ID
	conn *websocket.Conn
	log  *slog.Logger

	limiter *rate.Limiter
	send    chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

var _ registry.Channel = (*wsSession)(nil)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		httpserver.WriteError(w, http.StatusUpgradeRequired, "upgrade_required", "expected a WebSocket upgrade")
		return
	}
	id := protocol.ID(strings.TrimSpace(r.URL.Query().Get("userId")))
	if id == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request", "userId query parameter is required")
		return
	}
	if s.registry.Policy() == registry.DuplicateReject {
		if _, taken := s.registry.Resolve(id); taken {
			s.metrics.Inc(metrics.ConnectionRejected)
			httpserver.WriteError(w, http.StatusConflict, "duplicate_id", "participant id already connected")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "user_id", id, "err", err)
		return
	}

	wss := &wsSession{
		srv:     s,
		id:      id,
		conn:    conn,
		log:     s.log.With("user_id", id),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSecond), s.cfg.MaxMessagesPerSecond),
		send:    make(chan []byte, s.cfg.SendQueue),
		done:    make(chan struct{}),
	}

	if !s.track(wss) {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		wss.Close()
		return
	}
	defer s.untrack(wss)

	// Lost the race against another connection under the reject policy.
	if err := s.registry.Register(id, wss); err != nil {
		wss.closeWith(websocket.ClosePolicyViolation, "participant id already connected")
		wss.Close()
		return
	}
	wss.log.Info("participant connected", "remote_addr", r.RemoteAddr)

	wss.run()
}

func (wss *wsSession) run() {
	defer wss.release()
	defer wss.Close()

	go wss.writePump()

	idle := wss.srv.cfg.IdleTimeout
	wss.conn.SetReadLimit(wss.srv.cfg.MaxMessageBytes)
	_ = wss.conn.SetReadDeadline(time.Now().Add(idle))
	wss.conn.SetPongHandler(func(string) error {
		return wss.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla already answered with a 1009 close frame.
				wss.srv.metrics.Inc(metrics.DropReasonMessageTooLarge)
				wss.log.Warn("signaling message too large")
			case isTimeout(err):
				wss.closeWith(websocket.CloseNormalClosure, "idle timeout")
				wss.log.Info("signaling connection idle")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				wss.log.Debug("signaling connection lost", "err", err)
			}
			return
		}
		_ = wss.conn.SetReadDeadline(time.Now().Add(idle))

		// Rate limit after the read so the peer still sees the close frame
		// rather than a reset caused by unread data.
		if !wss.limiter.Allow() {
			wss.srv.metrics.Inc(metrics.DropReasonRateLimited)
			wss.log.Warn("signaling rate limit exceeded")
			wss.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			wss.srv.protocolError(wss, errors.New("expected text frame"))
			continue
		}
		wss.srv.dispatch(wss, data)
	}
}

func (wss *wsSession) writePump() {
	ticker := time.NewTicker(wss.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-wss.send:
			_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wss.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				wss.log.Debug("signaling write failed", "err", err)
				wss.Close()
				return
			}
		case <-ticker.C:
			if err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				wss.Close()
				return
			}
		case <-wss.done:
			return
		}
	}
}

// release runs once the read loop has ended. Only the channel that still owns
// the id triggers disconnect handling; an evicted channel leaves the rooms to
// its replacement.
func (wss *wsSession) release() {
	if wss.srv.registry.Unregister(wss.id, wss) {
		wss.srv.broker.Disconnect(wss.id)
	}
	wss.log.Info("participant disconnected")
}

// Send enqueues env without blocking.
func (wss *wsSession) Send(env protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-wss.done:
		return errSessionClosed
	default:
	}
	select {
	case wss.send <- frame:
		return nil
	case <-wss.done:
		return errSessionClosed
	default:
		return errSendQueueFull
	}
}

func (wss *wsSession) Evict(reason string) {
	wss.closeWith(websocket.ClosePolicyViolation, reason)
	wss.Close()
}

// closeWith writes a close frame. WriteControl is safe to call concurrently
// with writePump.
func (wss *wsSession) closeWith(code int, reason string) {
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		close(wss.done)
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
