package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Greed71/webRTC/internal/protocol"
)

func TestConnDeliversEnvelopes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if _, err := NewAPI(s.base, nil).CreateRoom(ctx, "alpha", "1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn, err := Dial(ctx, s.wsURL("1"), discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SendRoom(ctx, protocol.RoomMessage{Type: protocol.TypeJoinRequest, RoomName: "alpha"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case env := <-conn.Incoming():
		if env.Label != protocol.LabelRoom {
			t.Fatalf("label=%q, want %q", env.Label, protocol.LabelRoom)
		}
		msg, err := protocol.DecodeRoomMessage(env.Data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != protocol.TypeJoinSuccess || msg.RoomName != "alpha" {
			t.Fatalf("msg=%+v, want JOIN_SUCCESS for alpha", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for JOIN_SUCCESS")
	}
}

func TestDialReturnsOnceRegistered(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []protocol.ID{"1", "2", "3"} {
		conn, err := Dial(context.Background(), s.wsURL(id), discardLogger())
		if err != nil {
			t.Fatalf("dial %s: %v", id, err)
		}
		defer conn.Close()
		if _, ok := s.srv.Registry().Resolve(id); !ok {
			t.Fatalf("%s not registered when Dial returned", id)
		}
	}
}

func TestConnRejectsInvalidNegotiation(t *testing.T) {
	s := newTestServer(t)
	conn, err := Dial(context.Background(), s.wsURL("1"), discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	err = conn.Send(context.Background(), protocol.NegotiationMessage{Type: protocol.TypeOffer, OtherUserID: "2"})
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("err=%v, want ErrMalformed for an offer without a description", err)
	}
}

func TestConnServerShutdown(t *testing.T) {
	s := newTestServer(t)
	conn, err := Dial(context.Background(), s.wsURL("1"), discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s.srv.Close()

	select {
	case _, ok := <-conn.Incoming():
		if ok {
			t.Fatalf("unexpected envelope after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("incoming not closed after server shutdown")
	}
	if err := conn.Err(); err == nil {
		t.Fatalf("Err()=nil, want the going-away close")
	}
	if err := conn.SendRoom(context.Background(), protocol.RoomMessage{Type: protocol.TypeJoinRequest, RoomName: "alpha"}); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("send after close err=%v, want %v", err, ErrConnClosed)
	}
}

func TestConnDialFailure(t *testing.T) {
	s := newTestServer(t)
	// Missing userId is refused before the upgrade.
	target := "ws" + s.ts.URL[len("http"):] + "/ws"
	if _, err := Dial(context.Background(), target, discardLogger()); err == nil {
		t.Fatalf("expected dial error without userId")
	}
}
