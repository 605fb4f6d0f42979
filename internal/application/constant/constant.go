package constant

// Shared slog attribute keys.
const (
	Error    = "error"
	ConnID   = "conn_id"
	RoomID   = "room_id"
	UserID   = "user_id"
	UserName = "user_name"
	Event    = "event"
	State    = "state"
	PeerID   = "peer_id"
)
