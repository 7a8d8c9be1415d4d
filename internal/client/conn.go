package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Greed71/webRTC/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	// pongWait bounds the silence between server pings before the
	// connection is considered dead.
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 20
	sendQueue      = 64
)

var ErrConnClosed = errors.New("signaling connection closed")

// Conn is the participant side of the duplex channel. Decoded envelopes are
// delivered on Incoming in arrival order; writes go through a single writer
// goroutine so Send is safe for concurrent use.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	incoming chan protocol.Envelope
	outgoing chan []byte
	stop     chan struct{}
	done     chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial opens the channel at wsURL, which already carries the userId query,
// and returns once the server has registered the participant.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to %s: %s: %w", wsURL, resp.Status, err)
		}
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:       ws,
		log:      logger,
		incoming: make(chan protocol.Envelope, sendQueue),
		outgoing: make(chan []byte, sendQueue),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// The server starts reading only after it has registered the id, so the
	// first pong means deliveries to this participant will succeed.
	registered := make(chan struct{})
	var pongOnce sync.Once
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		pongOnce.Do(func() { close(registered) })
		return nil
	})

	go c.readPump()
	go c.writePump()

	if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	select {
	case <-registered:
		return c, nil
	case <-c.done:
		err := c.Err()
		if err == nil {
			err = ErrConnClosed
		}
		return nil, fmt.Errorf("connect to %s: %w", wsURL, err)
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// Incoming is closed when the connection ends; Err then reports why.
func (c *Conn) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Done is closed once the connection has been shut down from either side.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) readPump() {
	defer close(c.incoming)
	defer c.shutdown(nil)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.setErr(err)
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.log.Warn("dropping non-text frame", "type", msgType)
			continue
		}
		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			c.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case frame := <-c.outgoing:
			if err := c.write(frame); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.stop:
			c.flush()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.shutdown(nil)
			return
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// flush writes whatever is already queued so a final EXIT_REQUEST is not
// lost to Close.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.outgoing:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// SendEnvelope queues env for writing.
func (c *Conn) SendEnvelope(ctx context.Context, env protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) SendRoom(ctx context.Context, msg protocol.RoomMessage) error {
	env, err := protocol.NewRoomEnvelope(msg)
	if err != nil {
		return err
	}
	return c.SendEnvelope(ctx, env)
}

// Send implements negotiation.Signaler.
func (c *Conn) Send(ctx context.Context, msg protocol.NegotiationMessage) error {
	env, err := protocol.NewNegotiationEnvelope(msg)
	if err != nil {
		return err
	}
	return c.SendEnvelope(ctx, env)
}

// Close writes any queued frames, sends a normal close frame and waits for
// the connection to be torn down.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.setErr(err)
		}
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
