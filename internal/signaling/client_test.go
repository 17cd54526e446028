package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
}

// newScriptedServer upgrades one connection and hands it to script.
func newScriptedServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_ReceivesInOrderAndDropsMalformed(t *testing.T) {
	gotFromClient := make(chan []byte, 1)
	ts := newScriptedServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gotFromClient <- data

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user-joined","from":"bob"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","answer":{"type":"answer","sdp":"v=0"},"from":"bob"}`))
		_, _, _ = conn.ReadMessage()
	})

	received := make(chan Message, 4)
	c, err := Dial(context.Background(), ClientConfig{URL: wsURL(ts)}, func(m Message) { received <- m })
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(UserJoined("alice")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case data := <-gotFromClient:
		if string(data) != `{"type":"user-joined","from":"alice"}` {
			t.Fatalf("server got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to receive message")
	}

	want := []Type{TypeUserJoined, TypeAnswer}
	for i, typ := range want {
		select {
		case m := <-received:
			if m.Type != typ || m.From != "bob" {
				t.Fatalf("message %d = %#v, want type %q from bob", i, m, typ)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
	select {
	case m := <-received:
		t.Fatalf("unexpected extra message %#v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_DoneWhenRelayDrops(t *testing.T) {
	ts := newScriptedServer(t, func(conn *websocket.Conn) {
		// Returning closes the TCP connection without a close frame.
	})

	c, err := Dial(context.Background(), ClientConfig{URL: wsURL(ts)}, func(Message) {})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for Done")
	}
	if !errors.Is(c.Err(), ErrClosed) {
		t.Fatalf("Err=%v, want %v", c.Err(), ErrClosed)
	}
	if err := c.Send(UserJoined("alice")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after drop: err=%v, want %v", err, ErrClosed)
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	closeSeen := make(chan int, 1)
	ts := newScriptedServer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closeSeen <- ce.Code
		}
	})

	c, err := Dial(context.Background(), ClientConfig{URL: wsURL(ts)}, func(Message) {})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case code := <-closeSeen:
		if code != websocket.CloseNormalClosure {
			t.Fatalf("close code=%d, want %d", code, websocket.CloseNormalClosure)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for close frame")
	}
	if err := c.Send(UserJoined("alice")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close: err=%v, want %v", err, ErrClosed)
	}
}

func TestClient_SendRejectsInvalidMessage(t *testing.T) {
	ts := newScriptedServer(t, func(conn *websocket.Conn) { _, _, _ = conn.ReadMessage() })

	c, err := Dial(context.Background(), ClientConfig{URL: wsURL(ts)}, func(Message) {})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Send(Message{Type: TypeAnswer}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidMessage)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, ClientConfig{URL: "ws://127.0.0.1:1/signal"}, func(Message) {}); err == nil {
		t.Fatalf("expected dial error")
	}
}
