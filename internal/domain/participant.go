package domain

// Role of a classroom participant, carried opaque from the identity token.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Participant is one joined connection. The connection id is
// transport-assigned and ephemeral; the same user joining from two tabs is
// two participants.
type Participant struct {
	ConnID      string `json:"connectionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
	Role        Role   `json:"userRole"`
	RoomID      string `json:"-"`
}
