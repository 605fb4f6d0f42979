// Package events defines the signaling wire protocol: a tagged envelope and
// one payload struct per event, decoded at the hub boundary before dispatch.
// Session descriptions and ICE candidates stay opaque json.RawMessage; the
// hub relays them verbatim.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/classmesh/classmesh/internal/domain"
)

// Client -> hub event names.
const (
	TypeJoinRoom             = "join-room"
	TypeOffer                = "offer"
	TypeAnswer               = "answer"
	TypeICECandidate         = "ice-candidate"
	TypeChatMessage          = "chat-message"
	TypeTyping               = "typing"
	TypeMediaStateChange     = "media-state-change"
	TypeScreenShareStart     = "screen-share-start"
	TypeScreenShareStop      = "screen-share-stop"
	TypeRecordingStateChange = "recording-state-change"
	TypeLeaveRoom            = "leave-room"
)

// Hub -> client event names.
const (
	TypeRoomParticipants      = "room-participants"
	TypeUserJoined            = "user-joined"
	TypeUserLeft              = "user-left"
	TypeUserTyping            = "user-typing"
	TypePeerMediaStateChange  = "peer-media-state-change"
	TypePeerScreenShareStart  = "peer-screen-share-start"
	TypePeerScreenShareStop   = "peer-screen-share-stop"
	TypeRecordingStateChanged = "recording-state-changed"
)

// Message is the envelope for every event in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope around a payload.
func New(eventType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Message{Type: eventType, Data: data}, nil
}

type JoinRoomEvent struct {
	RoomID      string      `json:"roomId"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"userName"`
	Role        domain.Role `json:"userRole"`
}

// OfferEvent carries a session description toward one target. The RoomID is
// informative only; routing is by target connection id.
type OfferEvent struct {
	RoomID   string          `json:"roomId,omitempty"`
	TargetID string          `json:"targetConnectionId"`
	Offer    json.RawMessage `json:"offer"`
}

type AnswerEvent struct {
	TargetID string          `json:"targetConnectionId"`
	Answer   json.RawMessage `json:"answer"`
}

type ICECandidateEvent struct {
	TargetID  string          `json:"targetConnectionId"`
	Candidate json.RawMessage `json:"candidate"`
}

type ChatMessageEvent struct {
	RoomID      string      `json:"roomId"`
	Text        string      `json:"message"`
	DisplayName string      `json:"userName"`
	Role        domain.Role `json:"userRole"`
}

type TypingEvent struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type MediaStateEvent struct {
	RoomID         string `json:"roomId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

type ScreenShareEvent struct {
	RoomID string `json:"roomId"`
}

type RecordingStateEvent struct {
	RoomID      string `json:"roomId"`
	IsRecording bool   `json:"isRecording"`
}

// RoomParticipantsEvent is the join snapshot: everyone already in the room,
// excluding the joiner.
type RoomParticipantsEvent []ParticipantInfo

type ParticipantInfo struct {
	ConnID      string      `json:"connectionId"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"userName"`
	Role        domain.Role `json:"userRole"`
}

type UserJoinedEvent struct {
	ConnID      string      `json:"connectionId"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"userName"`
	Role        domain.Role `json:"userRole"`
}

type UserLeftEvent struct {
	ConnID      string `json:"connectionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
}

// PeerOfferEvent is a relayed description, tagged with the sender.
type PeerOfferEvent struct {
	ConnID string          `json:"connectionId"`
	Offer  json.RawMessage `json:"offer"`
}

type PeerAnswerEvent struct {
	ConnID string          `json:"connectionId"`
	Answer json.RawMessage `json:"answer"`
}

type PeerICECandidateEvent struct {
	ConnID    string          `json:"connectionId"`
	Candidate json.RawMessage `json:"candidate"`
}

type ChatMessageBroadcast struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"userId"`
	DisplayName string          `json:"userName"`
	Role        domain.Role     `json:"userRole"`
	Text        string          `json:"message"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        domain.ChatKind `json:"kind"`
}

type UserTypingEvent struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
	IsTyping    bool   `json:"isTyping"`
}

type PeerMediaStateEvent struct {
	ConnID         string `json:"connectionId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

type PeerScreenShareEvent struct {
	ConnID string `json:"connectionId"`
}

type RecordingStateBroadcast struct {
	IsRecording bool `json:"isRecording"`
}
