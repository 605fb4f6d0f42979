package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/application/metric"
	"github.com/classmesh/classmesh/internal/domain"
	"github.com/classmesh/classmesh/internal/domain/events"
	"github.com/classmesh/classmesh/internal/infra/adapters/memory"
	"github.com/classmesh/classmesh/internal/infra/adapters/postgres/repository"
)

// SignalingUsecase owns the room/participant registries and every operation
// that touches them. All mutation and fan-out is serialized by one mutex, so
// the join snapshot always reaches the joiner before the corresponding
// user-joined reaches anyone else.
type SignalingUsecase interface {
	HandleJoin(ctx context.Context, connID string, ev events.JoinRoomEvent) error
	HandleLeave(ctx context.Context, connID string) error

	// HandleDisconnect runs the same cleanup as an explicit leave and marks
	// the connection terminal.
	HandleDisconnect(ctx context.Context, connID string) error

	RelayOffer(connID string, ev events.OfferEvent)
	RelayAnswer(connID string, ev events.AnswerEvent)
	RelayCandidate(connID string, ev events.ICECandidateEvent)

	HandleChatMessage(connID string, ev events.ChatMessageEvent)
	HandleTyping(connID string, ev events.TypingEvent)
	HandleMediaState(connID string, ev events.MediaStateEvent)
	HandleScreenShare(connID string, start bool)
	HandleRecordingState(connID string, ev events.RecordingStateEvent)
}

type signalingUsecase struct {
	mu sync.Mutex

	participants memory.ParticipantRegistry
	rooms        memory.RoomRegistry
	conns        memory.ConnectionRegistry

	// closed marks connections that left or disconnected. A join-room on a
	// closed connection is a stale event; re-joining needs a fresh socket.
	closed map[string]struct{}

	attendance repository.AttendanceRepository
}

func NewSignalingUsecase(
	participants memory.ParticipantRegistry,
	rooms memory.RoomRegistry,
	conns memory.ConnectionRegistry,
	attendance repository.AttendanceRepository,
) SignalingUsecase {
	return &signalingUsecase{
		participants: participants,
		rooms:        rooms,
		conns:        conns,
		closed:       make(map[string]struct{}),
		attendance:   attendance,
	}
}

func (s *signalingUsecase) HandleJoin(ctx context.Context, connID string, ev events.JoinRoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, terminal := s.closed[connID]; terminal {
		s.dropStale(events.TypeJoinRoom, connID, "connection already closed")
		return nil
	}

	if ev.RoomID == "" {
		s.dropStale(events.TypeJoinRoom, connID, "empty room id")
		return nil
	}

	if existing, ok := s.participants.Get(connID); ok {
		if existing.RoomID == ev.RoomID {
			// Idempotent re-join: resend the snapshot, no broadcast.
			s.sendSnapshot(existing)
			return nil
		}

		// Joining another room implies leaving the current one.
		s.removeFromRoom(existing)
	}

	p := domain.Participant{
		ConnID:      connID,
		UserID:      ev.UserID,
		DisplayName: ev.DisplayName,
		Role:        ev.Role,
		RoomID:      ev.RoomID,
	}

	s.participants.Add(p)

	// Snapshot before membership, membership before the fan-out. The
	// per-socket FIFO writers keep this ordering on the wire.
	s.sendSnapshot(p)
	s.rooms.Join(p.RoomID, p.ConnID)

	joined, err := events.New(events.TypeUserJoined, events.UserJoinedEvent{
		ConnID:      p.ConnID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
	})
	if err != nil {
		return err
	}

	s.broadcastLocked(p.RoomID, joined, p.ConnID)

	s.systemNoteLocked(p, fmt.Sprintf("%s joined the classroom", p.DisplayName))

	s.updateGauges()

	slog.Info(
		"participant joined",
		slog.String(constant.ConnID, p.ConnID),
		slog.String(constant.RoomID, p.RoomID),
		slog.String(constant.UserName, p.DisplayName),
	)

	go s.recordJoin(p)

	return nil
}

func (s *signalingUsecase) HandleLeave(ctx context.Context, connID string) error {
	return s.leave(ctx, connID, "leave-room")
}

func (s *signalingUsecase) HandleDisconnect(ctx context.Context, connID string) error {
	return s.leave(ctx, connID, "disconnect")
}

func (s *signalingUsecase) leave(ctx context.Context, connID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Terminal either way; a closed connection cannot re-join.
	s.closed[connID] = struct{}{}

	p, ok := s.participants.Get(connID)
	if !ok {
		// Disconnect before any join is normal churn, not an error.
		return nil
	}

	s.removeFromRoom(p)
	s.updateGauges()

	slog.Info(
		"participant left",
		slog.String(constant.ConnID, connID),
		slog.String(constant.RoomID, p.RoomID),
		slog.String("cause", cause),
	)

	go s.recordLeave(p)

	return nil
}

// removeFromRoom takes a participant out of its room and broadcasts
// user-left with the last-known identity. Caller holds s.mu.
func (s *signalingUsecase) removeFromRoom(p domain.Participant) {
	s.participants.Remove(p.ConnID)
	s.rooms.Leave(p.RoomID, p.ConnID)

	left, err := events.New(events.TypeUserLeft, events.UserLeftEvent{
		ConnID:      p.ConnID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
	})
	if err != nil {
		slog.Error("marshal user-left", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(p.RoomID, left, p.ConnID)

	s.systemNoteLocked(p, fmt.Sprintf("%s left the classroom", p.DisplayName))
}

func (s *signalingUsecase) RelayOffer(connID string, ev events.OfferEvent) {
	s.relay(connID, ev.TargetID, events.TypeOffer, func(sender domain.Participant) (events.Message, error) {
		return events.New(events.TypeOffer, events.PeerOfferEvent{
			ConnID: sender.ConnID,
			Offer:  ev.Offer,
		})
	})
}

func (s *signalingUsecase) RelayAnswer(connID string, ev events.AnswerEvent) {
	s.relay(connID, ev.TargetID, events.TypeAnswer, func(sender domain.Participant) (events.Message, error) {
		return events.New(events.TypeAnswer, events.PeerAnswerEvent{
			ConnID: sender.ConnID,
			Answer: ev.Answer,
		})
	})
}

func (s *signalingUsecase) RelayCandidate(connID string, ev events.ICECandidateEvent) {
	s.relay(connID, ev.TargetID, events.TypeICECandidate, func(sender domain.Participant) (events.Message, error) {
		return events.New(events.TypeICECandidate, events.PeerICECandidateEvent{
			ConnID:    sender.ConnID,
			Candidate: ev.Candidate,
		})
	})
}

// relay forwards a targeted payload verbatim, tagged with the sender. A gone
// target is a silent drop, never an error back to the sender.
func (s *signalingUsecase) relay(connID, targetID, eventType string, build func(domain.Participant) (events.Message, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(eventType, connID, "sender not in a room")
		return
	}

	target, ok := s.participants.Get(targetID)
	if !ok || target.RoomID != sender.RoomID {
		s.dropStale(eventType, connID, "target gone")
		return
	}

	msg, err := build(sender)
	if err != nil {
		slog.Error("marshal relay payload", slog.Any(constant.Error, err))
		return
	}

	if s.conns.Write(targetID, msg) {
		metric.IncrementRelayedSignals(eventType)
	}
}

func (s *signalingUsecase) HandleChatMessage(connID string, ev events.ChatMessageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(events.TypeChatMessage, connID, "sender not in a room")
		return
	}

	msg, err := events.New(events.TypeChatMessage, events.ChatMessageBroadcast{
		ID:          uuid.NewString(),
		SenderID:    sender.UserID,
		DisplayName: sender.DisplayName,
		Role:        sender.Role,
		Text:        ev.Text,
		Timestamp:   time.Now().UTC(),
		Kind:        domain.ChatKindMessage,
	})
	if err != nil {
		slog.Error("marshal chat message", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(sender.RoomID, msg, sender.ConnID)
	metric.IncrementBroadcastEvents(events.TypeChatMessage)
}

func (s *signalingUsecase) HandleTyping(connID string, ev events.TypingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(events.TypeTyping, connID, "sender not in a room")
		return
	}

	msg, err := events.New(events.TypeUserTyping, events.UserTypingEvent{
		UserID:      sender.UserID,
		DisplayName: sender.DisplayName,
		IsTyping:    ev.IsTyping,
	})
	if err != nil {
		slog.Error("marshal typing event", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(sender.RoomID, msg, sender.ConnID)
	metric.IncrementBroadcastEvents(events.TypeTyping)
}

func (s *signalingUsecase) HandleMediaState(connID string, ev events.MediaStateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(events.TypeMediaStateChange, connID, "sender not in a room")
		return
	}

	msg, err := events.New(events.TypePeerMediaStateChange, events.PeerMediaStateEvent{
		ConnID:         sender.ConnID,
		IsVideoEnabled: ev.IsVideoEnabled,
		IsAudioEnabled: ev.IsAudioEnabled,
	})
	if err != nil {
		slog.Error("marshal media state", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(sender.RoomID, msg, sender.ConnID)
	metric.IncrementBroadcastEvents(events.TypeMediaStateChange)
}

func (s *signalingUsecase) HandleScreenShare(connID string, start bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(events.TypeScreenShareStart, connID, "sender not in a room")
		return
	}

	eventType := events.TypePeerScreenShareStop
	if start {
		eventType = events.TypePeerScreenShareStart
	}

	msg, err := events.New(eventType, events.PeerScreenShareEvent{ConnID: sender.ConnID})
	if err != nil {
		slog.Error("marshal screen share event", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(sender.RoomID, msg, sender.ConnID)
	metric.IncrementBroadcastEvents(eventType)
}

func (s *signalingUsecase) HandleRecordingState(connID string, ev events.RecordingStateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.participants.Get(connID)
	if !ok {
		s.dropStale(events.TypeRecordingStateChange, connID, "sender not in a room")
		return
	}

	msg, err := events.New(events.TypeRecordingStateChanged, events.RecordingStateBroadcast{
		IsRecording: ev.IsRecording,
	})
	if err != nil {
		slog.Error("marshal recording state", slog.Any(constant.Error, err))
		return
	}

	// Unlike chat and media state, the sender hears this one too.
	s.broadcastLocked(sender.RoomID, msg, "")
	metric.IncrementBroadcastEvents(events.TypeRecordingStateChange)
}

// sendSnapshot writes the room-participants list (everyone but the joiner)
// to the joiner. Caller holds s.mu.
func (s *signalingUsecase) sendSnapshot(p domain.Participant) {
	snapshot := events.RoomParticipantsEvent{}

	for _, connID := range s.rooms.Members(p.RoomID) {
		if connID == p.ConnID {
			continue
		}

		member, ok := s.participants.Get(connID)
		if !ok {
			continue
		}

		snapshot = append(snapshot, events.ParticipantInfo{
			ConnID:      member.ConnID,
			UserID:      member.UserID,
			DisplayName: member.DisplayName,
			Role:        member.Role,
		})
	}

	msg, err := events.New(events.TypeRoomParticipants, snapshot)
	if err != nil {
		slog.Error("marshal room snapshot", slog.Any(constant.Error, err))
		return
	}

	s.conns.Write(p.ConnID, msg)
}

// broadcastLocked fans out to every current room member. An empty
// excludeConnID includes the sender. Caller holds s.mu.
func (s *signalingUsecase) broadcastLocked(roomID string, msg events.Message, excludeConnID string) {
	for _, connID := range s.rooms.Members(roomID) {
		if connID == excludeConnID {
			continue
		}

		s.conns.Write(connID, msg)
	}
}

func (s *signalingUsecase) systemNoteLocked(about domain.Participant, text string) {
	msg, err := events.New(events.TypeChatMessage, events.ChatMessageBroadcast{
		ID:          uuid.NewString(),
		SenderID:    about.UserID,
		DisplayName: about.DisplayName,
		Role:        about.Role,
		Text:        text,
		Timestamp:   time.Now().UTC(),
		Kind:        domain.ChatKindSystem,
	})
	if err != nil {
		slog.Error("marshal system note", slog.Any(constant.Error, err))
		return
	}

	s.broadcastLocked(about.RoomID, msg, about.ConnID)
}

func (s *signalingUsecase) dropStale(eventType, connID, reason string) {
	metric.IncrementStaleEventsDropped()

	slog.Debug(
		domain.ErrStaleEvent.Error(),
		slog.String(constant.Event, eventType),
		slog.String(constant.ConnID, connID),
		slog.String("reason", reason),
	)
}

func (s *signalingUsecase) updateGauges() {
	metric.SetOpenRooms(s.rooms.Count())
	metric.SetParticipants(s.participants.Count())
}

// Attendance writes happen off the registry lock; a failing sink only logs.
func (s *signalingUsecase) recordJoin(p domain.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.attendance.RecordJoin(ctx, p, time.Now().UTC()); err != nil {
		slog.Error(
			"record attendance join",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, p.ConnID),
		)
	}
}

func (s *signalingUsecase) recordLeave(p domain.Participant) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.attendance.RecordLeave(ctx, p.ConnID, time.Now().UTC()); err != nil {
		slog.Error(
			"record attendance leave",
			slog.Any(constant.Error, err),
			slog.String(constant.ConnID, p.ConnID),
		)
	}
}
