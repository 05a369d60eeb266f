package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dialTestServer(t *testing.T, ws *WSServer) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(ws)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestWSHandshakeSendsChallengeThenConnectSucceeds(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ws := NewWSServer(WSConfig{Runtime: rt, Log: zerolog.Nop()})
	conn, closeAll := dialTestServer(t, ws)
	defer closeAll()

	challenge := readFrame(t, conn)
	if challenge.Type != "event" || challenge.Event != "challenge" {
		t.Fatalf("first frame = %+v, want a challenge event", challenge)
	}

	connectReq := Frame{Type: "req", ID: "1", Method: "connect", Params: json.RawMessage(
		`{"minProtocol":1,"maxProtocol":1,"client":{"id":"t","version":"1","platform":"test"}}`)}
	data, _ := json.Marshal(connectReq)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	res := readFrame(t, conn)
	if res.Type != "res" || res.ID != "1" || res.OK == nil || !*res.OK {
		t.Fatalf("connect response = %+v, want ok", res)
	}
}

func TestWSRejectsRequestsBeforeConnect(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ws := NewWSServer(WSConfig{Runtime: rt, Log: zerolog.Nop()})
	conn, closeAll := dialTestServer(t, ws)
	defer closeAll()

	readFrame(t, conn) // challenge

	ping := Frame{Type: "req", ID: "2", Method: "ping"}
	data, _ := json.Marshal(ping)
	conn.WriteMessage(websocket.TextMessage, data)

	res := readFrame(t, conn)
	if res.OK == nil || *res.OK {
		t.Fatalf("res = %+v, want a failure before handshake completes", res)
	}
	if res.Error == nil || res.Error.Code != ErrProtocolError {
		t.Fatalf("error = %+v, want PROTOCOL_ERROR", res.Error)
	}
}

func TestWSConnectFailsWithWrongAuthToken(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ws := NewWSServer(WSConfig{Runtime: rt, AuthToken: "s3cret", Log: zerolog.Nop()})
	conn, closeAll := dialTestServer(t, ws)
	defer closeAll()

	readFrame(t, conn) // challenge

	connectReq := Frame{Type: "req", ID: "1", Method: "connect", Params: json.RawMessage(
		`{"minProtocol":1,"maxProtocol":1,"client":{"id":"t","version":"1","platform":"test"},"auth":{"token":"wrong"}}`)}
	data, _ := json.Marshal(connectReq)
	conn.WriteMessage(websocket.TextMessage, data)

	res := readFrame(t, conn)
	if res.OK == nil || *res.OK {
		t.Fatalf("res = %+v, want failure for wrong token", res)
	}
	if res.Error == nil || res.Error.Code != ErrAuthFailed {
		t.Fatalf("error = %+v, want AUTH_FAILED", res.Error)
	}
}

func TestWSChatSendRunsTurnAndReturnsContent(t *testing.T) {
	rt, sender := newTestRuntime(t)
	ws := NewWSServer(WSConfig{Runtime: rt, Log: zerolog.Nop()})
	conn, closeAll := dialTestServer(t, ws)
	defer closeAll()

	readFrame(t, conn) // challenge

	connectReq := Frame{Type: "req", ID: "1", Method: "connect", Params: json.RawMessage(
		`{"minProtocol":1,"maxProtocol":1,"client":{"id":"t","version":"1","platform":"test"}}`)}
	data, _ := json.Marshal(connectReq)
	conn.WriteMessage(websocket.TextMessage, data)
	readFrame(t, conn) // connect ack

	chatReq := Frame{Type: "req", ID: "2", Method: "chat.send", Params: json.RawMessage(`{"content":"hello"}`)}
	data, _ = json.Marshal(chatReq)
	conn.WriteMessage(websocket.TextMessage, data)

	res := readFrame(t, conn)
	if res.OK == nil || !*res.OK {
		t.Fatalf("res = %+v, want ok", res)
	}
	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1", sender.calls)
	}
}

func TestHubBroadcastDeliversReminderFireToConnectedClients(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ws := NewWSServer(WSConfig{Runtime: rt, Log: zerolog.Nop()})
	conn, closeAll := dialTestServer(t, ws)
	defer closeAll()

	readFrame(t, conn) // challenge
	connectReq := Frame{Type: "req", ID: "1", Method: "connect", Params: json.RawMessage(
		`{"minProtocol":1,"maxProtocol":1,"client":{"id":"t","version":"1","platform":"test"}}`)}
	data, _ := json.Marshal(connectReq)
	conn.WriteMessage(websocket.TextMessage, data)
	readFrame(t, conn) // connect ack

	// Give the server a moment to register the connection in the hub.
	time.Sleep(50 * time.Millisecond)
	ws.Hub().broadcast("reminder.fire", map[string]any{"message": "ping"})

	event := readFrame(t, conn)
	if event.Type != "event" || event.Event != "reminder.fire" {
		t.Fatalf("event = %+v, want a reminder.fire event", event)
	}
}
