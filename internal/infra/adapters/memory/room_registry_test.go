package memory

import (
	"testing"
)

func TestRoomRegistryJoinIsIdempotentAndOrdered(t *testing.T) {
	rooms := NewRoomRegistry()

	rooms.Join("room-1", "a")
	rooms.Join("room-1", "b")
	rooms.Join("room-1", "a")

	members := rooms.Members("room-1")
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("members = %v, want [a b] in join order", members)
	}
}

func TestRoomRegistryLeaveDeletesEmptyRoom(t *testing.T) {
	rooms := NewRoomRegistry()

	rooms.Join("room-1", "a")
	rooms.Join("room-1", "b")

	if deleted := rooms.Leave("room-1", "a"); deleted {
		t.Fatalf("room reported deleted while b is still a member")
	}

	if deleted := rooms.Leave("room-1", "b"); !deleted {
		t.Fatalf("room not deleted after last member left")
	}

	if rooms.Count() != 0 {
		t.Fatalf("count = %d, want 0", rooms.Count())
	}
}

func TestRoomRegistryLeaveUnknownMemberIsNoop(t *testing.T) {
	rooms := NewRoomRegistry()

	rooms.Join("room-1", "a")

	if deleted := rooms.Leave("room-1", "ghost"); deleted {
		t.Fatalf("room deleted by a non-member leave")
	}

	if !rooms.Contains("room-1", "a") {
		t.Fatalf("member lost by a non-member leave")
	}
}

func TestRoomRegistryMembersReturnsACopy(t *testing.T) {
	rooms := NewRoomRegistry()

	rooms.Join("room-1", "a")
	rooms.Join("room-1", "b")

	members := rooms.Members("room-1")
	members[0] = "mutated"

	if got := rooms.Members("room-1"); got[0] != "a" {
		t.Fatalf("registry state leaked through Members: %v", got)
	}
}
