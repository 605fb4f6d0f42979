package domain

// Room is an ephemeral set of participants. Created implicitly on first
// join, deleted when the last participant leaves. Never persisted.
type Room struct {
	ID      string
	Members []string // connection ids, join order
}
