package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/protocol"
)

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &testEnv{srv: srv, ts: ts, metrics: cfg.Metrics}
}

func (e *testEnv) wsURL(path string, id protocol.ID) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path + "?userId=" + url.QueryEscape(string(id))
}

// testClient reads frames on a background goroutine so tests can wait with
// timeouts without tripping gorilla's sticky read deadline.
type testClient struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	err    error
}

func (e *testEnv) dial(t *testing.T, id protocol.ID) *testClient {
	t.Helper()
	c := e.dialPath(t, "/ws", id)
	waitFor(t, func() bool {
		_, ok := e.srv.Registry().Resolve(id)
		return ok
	})
	return c
}

func (e *testEnv) dialPath(t *testing.T, path string, id protocol.ID) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(path, id), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	c := &testClient{conn: conn, frames: make(chan []byte, 64), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.err = err
				return
			}
			c.frames <- data
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.frames:
		return data
	case <-c.done:
		t.Fatalf("connection closed: %v", c.err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame")
	}
	return nil
}

func (c *testClient) nextRoom(t *testing.T) protocol.RoomMessage {
	t.Helper()
	env, err := protocol.DecodeEnvelope(c.next(t))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Label != protocol.LabelRoom {
		t.Fatalf("label=%q, want %q", env.Label, protocol.LabelRoom)
	}
	msg, err := protocol.DecodeRoomMessage(env.Data)
	if err != nil {
		t.Fatalf("DecodeRoomMessage: %v", err)
	}
	return msg
}

func (c *testClient) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-c.done:
		t.Fatalf("connection closed: %v", c.err)
	case <-time.After(d):
	}
}

// closed waits for the server to end the connection and returns the read
// error, normally a *websocket.CloseError.
func (c *testClient) closed(t *testing.T) error {
	t.Helper()
	select {
	case <-c.done:
		return c.err
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for close")
	}
	return nil
}

func (c *testClient) send(t *testing.T, frame string) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testClient) sendRoom(t *testing.T, msg protocol.RoomMessage) {
	t.Helper()
	env, err := protocol.NewRoomEnvelope(msg)
	if err != nil {
		t.Fatalf("NewRoomEnvelope: %v", err)
	}
	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c.send(t, string(frame))
}

func (e *testEnv) post(t *testing.T, path, body string) (int, protocol.RoomResponse) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out protocol.RoomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s response %q: %v", path, raw, err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) createRoom(t *testing.T, name string, creator protocol.ID) {
	t.Helper()
	status, resp := e.post(t, "/create-room", `{"roomName":"`+name+`","userId":"`+string(creator)+`"}`)
	if status != http.StatusOK || resp.Data.Type != protocol.ResultCreateSuccess {
		t.Fatalf("create %s: status=%d data=%+v", name, status, resp.Data)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
