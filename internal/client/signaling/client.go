// Package signaling is the client side of the hub protocol: one WebSocket
// with typed send helpers, handler dispatch for hub events, and reconnect
// with backoff. The last join is replayed after every reconnect so the
// session re-enters its room on a fresh connection.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/domain"
	"github.com/classmesh/classmesh/internal/domain/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// State is the connection lifecycle. InRoom is entered when the hub confirms
// a join with the participant snapshot.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInRoom       State = "in-room"
)

// Handlers receives decoded hub events. Nil fields are skipped. All handlers
// run on the read goroutine; keep them short or hand off.
type Handlers struct {
	OnRoomParticipants     func(events.RoomParticipantsEvent)
	OnUserJoined           func(events.UserJoinedEvent)
	OnUserLeft             func(events.UserLeftEvent)
	OnOffer                func(events.PeerOfferEvent)
	OnAnswer               func(events.PeerAnswerEvent)
	OnCandidate            func(events.PeerICECandidateEvent)
	OnChatMessage          func(events.ChatMessageBroadcast)
	OnUserTyping           func(events.UserTypingEvent)
	OnPeerMediaState       func(events.PeerMediaStateEvent)
	OnPeerScreenShareStart func(events.PeerScreenShareEvent)
	OnPeerScreenShareStop  func(events.PeerScreenShareEvent)
	OnRecordingState       func(events.RecordingStateBroadcast)

	// OnStateChange observes lifecycle transitions; err is non-nil when the
	// transition was caused by a failure.
	OnStateChange func(state State, err error)
}

// Client manages the signaling connection for one classroom session.
type Client struct {
	serverURL string
	token     string
	handlers  Handlers

	outgoing chan events.Message

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	lastJoin *events.JoinRoomEvent
	closed   bool
	done     chan struct{}
}

func NewClient(serverURL, token string, handlers Handlers) *Client {
	return &Client{
		serverURL: serverURL,
		token:     token,
		handlers:  handlers,
		outgoing:  make(chan events.Message, 64),
		state:     StateDisconnected,
		done:      make(chan struct{}),
	}
}

// Connect dials the hub and starts the pumps. Dial failures surface as
// ErrSignalingUnreachable; reconnection after a later drop is automatic.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	c.startPumps(conn)

	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSignalingUnreachable, err)
	}

	return conn, nil
}

func (c *Client) startPumps(conn *websocket.Conn) {
	stop := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)

	go c.readPump(conn, stop)
	go c.writePump(conn, stop)
}

func (c *Client) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer func() {
		close(stop)
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.isClosed() {
				return
			}

			c.setState(StateDisconnected, fmt.Errorf("%w: %w", domain.ErrSignalingUnreachable, err))
			go c.reconnect()

			return
		}

		c.dispatch(msg)
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return

		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)

			return
		}
	}
}

// reconnect redials with doubling backoff plus jitter, capped. A successful
// redial replays the last join so the hub treats us as a fresh participant.
func (c *Client) reconnect() {
	c.setState(StateConnecting, nil)

	delay := reconnectBase

	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay + rand.N(delay/2)):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			slog.Debug("signaling redial failed", slog.Any(constant.Error, err))

			delay *= 2
			if delay > reconnectCap {
				delay = reconnectCap
			}

			continue
		}

		c.startPumps(conn)

		c.mu.Lock()
		join := c.lastJoin
		c.mu.Unlock()

		if join != nil {
			if err := c.JoinRoom(*join); err != nil {
				slog.Warn("rejoin after reconnect", slog.Any(constant.Error, err))
			}
		}

		return
	}
}

func (c *Client) dispatch(msg events.Message) {
	switch msg.Type {
	case events.TypeRoomParticipants:
		c.setState(StateInRoom, nil)
		decodeAndCall(msg, c.handlers.OnRoomParticipants)
	case events.TypeUserJoined:
		decodeAndCall(msg, c.handlers.OnUserJoined)
	case events.TypeUserLeft:
		decodeAndCall(msg, c.handlers.OnUserLeft)
	case events.TypeOffer:
		decodeAndCall(msg, c.handlers.OnOffer)
	case events.TypeAnswer:
		decodeAndCall(msg, c.handlers.OnAnswer)
	case events.TypeICECandidate:
		decodeAndCall(msg, c.handlers.OnCandidate)
	case events.TypeChatMessage:
		decodeAndCall(msg, c.handlers.OnChatMessage)
	case events.TypeUserTyping:
		decodeAndCall(msg, c.handlers.OnUserTyping)
	case events.TypePeerMediaStateChange:
		decodeAndCall(msg, c.handlers.OnPeerMediaState)
	case events.TypePeerScreenShareStart:
		decodeAndCall(msg, c.handlers.OnPeerScreenShareStart)
	case events.TypePeerScreenShareStop:
		decodeAndCall(msg, c.handlers.OnPeerScreenShareStop)
	case events.TypeRecordingStateChanged:
		decodeAndCall(msg, c.handlers.OnRecordingState)
	default:
		slog.Debug("unhandled signaling event", slog.String(constant.Event, msg.Type))
	}
}

func decodeAndCall[T any](msg events.Message, handler func(T)) {
	if handler == nil {
		return
	}

	var payload T
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		slog.Warn("decode signaling event",
			slog.String(constant.Event, msg.Type),
			slog.Any(constant.Error, err),
		)

		return
	}

	handler(payload)
}

// send enqueues one envelope. The queue survives reconnects; a full queue
// means the hub has been unreachable long enough to count as gone.
func (c *Client) send(eventType string, payload any) error {
	msg, err := events.New(eventType, payload)
	if err != nil {
		return err
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return domain.ErrSignalingUnreachable
	default:
		return fmt.Errorf("%w: send queue full", domain.ErrSignalingUnreachable)
	}
}

// JoinRoom asks the hub for room entry and remembers the request for
// replay after reconnects.
func (c *Client) JoinRoom(join events.JoinRoomEvent) error {
	c.mu.Lock()
	c.lastJoin = &join
	c.mu.Unlock()

	return c.send(events.TypeJoinRoom, join)
}

// LeaveRoom announces departure and stops rejoin replay.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	c.lastJoin = nil
	c.mu.Unlock()

	return c.send(events.TypeLeaveRoom, struct{}{})
}

func (c *Client) SendOffer(targetID string, offer webrtc.SessionDescription) error {
	raw, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}

	return c.send(events.TypeOffer, events.OfferEvent{TargetID: targetID, Offer: raw})
}

func (c *Client) SendAnswer(targetID string, answer webrtc.SessionDescription) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	return c.send(events.TypeAnswer, events.AnswerEvent{TargetID: targetID, Answer: raw})
}

func (c *Client) SendCandidate(targetID string, candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}

	return c.send(events.TypeICECandidate, events.ICECandidateEvent{TargetID: targetID, Candidate: raw})
}

func (c *Client) SendChatMessage(roomID, text string) error {
	return c.send(events.TypeChatMessage, events.ChatMessageEvent{RoomID: roomID, Text: text})
}

func (c *Client) SendTyping(roomID string, isTyping bool) error {
	return c.send(events.TypeTyping, events.TypingEvent{RoomID: roomID, IsTyping: isTyping})
}

func (c *Client) SendMediaState(roomID string, video, audio bool) error {
	return c.send(events.TypeMediaStateChange, events.MediaStateEvent{
		RoomID:         roomID,
		IsVideoEnabled: video,
		IsAudioEnabled: audio,
	})
}

func (c *Client) SendScreenShareStart(roomID string) error {
	return c.send(events.TypeScreenShareStart, events.ScreenShareEvent{RoomID: roomID})
}

func (c *Client) SendScreenShareStop(roomID string) error {
	return c.send(events.TypeScreenShareStop, events.ScreenShareEvent{RoomID: roomID})
}

func (c *Client) SendRecordingState(roomID string, isRecording bool) error {
	return c.send(events.TypeRecordingStateChange, events.RecordingStateEvent{
		RoomID:      roomID,
		IsRecording: isRecording,
	})
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Client) setState(state State, err error) {
	c.mu.Lock()
	if c.state == state && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(state, err)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Close shuts the connection down for good. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		// Give the close frame a moment to flush before tearing down.
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}

	c.setState(StateDisconnected, nil)
}
