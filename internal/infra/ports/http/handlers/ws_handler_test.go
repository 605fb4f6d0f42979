package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/classmesh/classmesh/internal/application/config"
	"github.com/classmesh/classmesh/internal/domain/events"
	"github.com/classmesh/classmesh/internal/infra/adapters/memory"
	"github.com/classmesh/classmesh/internal/infra/adapters/postgres/repository"
	"github.com/classmesh/classmesh/internal/infra/ports/http/handlers"
	"github.com/classmesh/classmesh/internal/infra/ports/http/server"
	"github.com/classmesh/classmesh/internal/usecase"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Debug:     true,
		JWTSecret: testSecret,
	}

	conns := memory.NewConnectionRegistry()

	signalingUsecase := usecase.NewSignalingUsecase(
		memory.NewParticipantRegistry(),
		memory.NewRoomRegistry(),
		conns,
		repository.NopAttendanceRepo{},
	)

	e := server.New(
		cfg,
		handlers.NewIceHandler(cfg),
		handlers.NewWebSocketHandler(cfg, signalingUsecase, conns),
	)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return srv
}

func mintToken(t *testing.T, sub, name, role string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"name": name,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return signed
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()

	msg, err := events.New(eventType, payload)
	if err != nil {
		t.Fatalf("build %s: %v", eventType, err)
	}

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", eventType, err)
	}
}

// readUntil drains the socket until a message of the wanted type arrives,
// skipping the system chat notes that joins and leaves emit.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) events.Message {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)

	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}

		if msg.Type == eventType {
			return msg
		}
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID string) events.RoomParticipantsEvent {
	t.Helper()

	sendEvent(t, conn, events.TypeJoinRoom, events.JoinRoomEvent{RoomID: roomID})

	msg := readUntil(t, conn, events.TypeRoomParticipants)

	var snapshot events.RoomParticipantsEvent
	if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	return snapshot
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial without token succeeded")
	}

	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestJoinOverWireUsesTokenIdentityAndSnapshotOrdering(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv, mintToken(t, "user-alice", "Alice", "teacher"))
	if snapshot := joinRoom(t, alice, "room-1"); len(snapshot) != 0 {
		t.Fatalf("first joiner snapshot = %+v, want empty", snapshot)
	}

	bob := dialWS(t, srv, mintToken(t, "user-bob", "Bob", "student"))

	// The payload lies about identity; the token must win.
	sendEvent(t, bob, events.TypeJoinRoom, events.JoinRoomEvent{
		RoomID:      "room-1",
		UserID:      "user-mallory",
		DisplayName: "Mallory",
	})

	snapMsg := readUntil(t, bob, events.TypeRoomParticipants)

	var snapshot events.RoomParticipantsEvent
	if err := json.Unmarshal(snapMsg.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	if len(snapshot) != 1 || snapshot[0].UserID != "user-alice" || snapshot[0].Role != "teacher" {
		t.Fatalf("snapshot = %+v, want alice as teacher", snapshot)
	}

	joinedMsg := readUntil(t, alice, events.TypeUserJoined)

	var joined events.UserJoinedEvent
	if err := json.Unmarshal(joinedMsg.Data, &joined); err != nil {
		t.Fatalf("decode user-joined: %v", err)
	}

	if joined.UserID != "user-bob" || joined.DisplayName != "Bob" {
		t.Fatalf("user-joined = %+v, want token identity, not the payload's", joined)
	}
}

func TestOfferRelayedOverWire(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv, mintToken(t, "user-alice", "Alice", "student"))
	joinRoom(t, alice, "room-1")

	bob := dialWS(t, srv, mintToken(t, "user-bob", "Bob", "student"))
	snapshot := joinRoom(t, bob, "room-1")
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %+v, want alice only", snapshot)
	}

	sendEvent(t, bob, events.TypeOffer, events.OfferEvent{
		TargetID: snapshot[0].ConnID,
		Offer:    json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	offerMsg := readUntil(t, alice, events.TypeOffer)

	var offer events.PeerOfferEvent
	if err := json.Unmarshal(offerMsg.Data, &offer); err != nil {
		t.Fatalf("decode relayed offer: %v", err)
	}

	if offer.ConnID == "" {
		t.Fatalf("relayed offer lost the sender tag: %+v", offer)
	}

	if string(offer.Offer) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("offer payload not relayed verbatim: %s", offer.Offer)
	}
}

func TestSocketCloseBroadcastsUserLeft(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv, mintToken(t, "user-alice", "Alice", "student"))
	joinRoom(t, alice, "room-1")

	bob := dialWS(t, srv, mintToken(t, "user-bob", "Bob", "student"))
	joinRoom(t, bob, "room-1")
	readUntil(t, alice, events.TypeUserJoined)

	// Transport-level close, no leave-room event first.
	bob.Close()

	leftMsg := readUntil(t, alice, events.TypeUserLeft)

	var left events.UserLeftEvent
	if err := json.Unmarshal(leftMsg.Data, &left); err != nil {
		t.Fatalf("decode user-left: %v", err)
	}

	if left.DisplayName != "Bob" {
		t.Fatalf("user-left = %+v, want last-known identity Bob", left)
	}
}

func TestMalformedFrameDoesNotKillTheConnection(t *testing.T) {
	srv := newTestServer(t)

	alice := dialWS(t, srv, mintToken(t, "user-alice", "Alice", "student"))
	joinRoom(t, alice, "room-1")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	// The connection must still serve a join from another participant.
	bob := dialWS(t, srv, mintToken(t, "user-bob", "Bob", "student"))
	joinRoom(t, bob, "room-1")

	readUntil(t, alice, events.TypeUserJoined)
}

func TestIceEndpointReturnsStunList(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/ice", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-alice", "Alice", "student"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch ice: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
