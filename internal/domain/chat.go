package domain

import "time"

type ChatKind string

const (
	ChatKindMessage ChatKind = "message"
	ChatKindSystem  ChatKind = "system"
)

// ChatMessage is an ephemeral room chat entry. The hub assigns ID and
// Timestamp; durable history is an external subscriber's concern.
type ChatMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"userId"`
	DisplayName string    `json:"userName"`
	Role        Role      `json:"userRole"`
	Text        string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        ChatKind  `json:"kind"`
}
