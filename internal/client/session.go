// Package client composes one classroom session: local capture, the
// signaling connection and the per-peer transports, with a single scoped
// teardown on every exit path.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/client/media"
	"github.com/classmesh/classmesh/internal/client/peer"
	"github.com/classmesh/classmesh/internal/client/signaling"
	"github.com/classmesh/classmesh/internal/domain"
	"github.com/classmesh/classmesh/internal/domain/events"
)

// Config describes one join attempt.
type Config struct {
	ServerURL string
	Token     string

	RoomID      string
	UserID      string
	DisplayName string
	Role        domain.Role

	ICEServers []webrtc.ICEServer
	Media      media.Constraints

	// Uploader receives finalized recording blobs. Required before
	// StartRecording.
	Uploader media.BlobUploader
}

// Events are the UI-facing notifications. Nil fields are skipped.
type Events struct {
	OnRoster           func(events.RoomParticipantsEvent)
	OnParticipantJoin  func(events.UserJoinedEvent)
	OnParticipantLeave func(events.UserLeftEvent)

	OnChat             func(events.ChatMessageBroadcast)
	OnTyping           func(events.UserTypingEvent)
	OnPeerMediaState   func(events.PeerMediaStateEvent)
	OnPeerScreenShare  func(connID string, active bool)
	OnRecordingChanged func(isRecording bool)

	OnSignalingState func(signaling.State, error)

	Peer peer.Callbacks
}

// Session is one participant's live classroom membership.
type Session struct {
	cfg    Config
	events Events

	controller *media.Controller
	local      *media.Session
	sig        *signaling.Client
	orch       *peer.Orchestrator

	closeOnce sync.Once
}

// Join acquires local media, connects to the hub and enters the room. On any
// step's failure everything opened so far is released.
func Join(ctx context.Context, cfg Config, provider media.DeviceProvider, ev Events) (*Session, error) {
	s := &Session{
		cfg:        cfg,
		events:     ev,
		controller: media.NewController(provider),
	}

	local, err := s.controller.Acquire(cfg.Media)
	if err != nil {
		s.controller.Close()
		return nil, fmt.Errorf("acquire media: %w", err)
	}
	s.local = local

	// The stop-sharing funnel: a screen source ending on its own takes the
	// exact path of the in-app stop button.
	s.controller.SetScreenEndedHandler(func() {
		if err := s.StopScreenShare(); err != nil {
			slog.Warn("stop screen share after source ended", slog.Any(constant.Error, err))
		}
	})

	s.sig = signaling.NewClient(cfg.ServerURL, cfg.Token, s.signalingHandlers())

	s.orch = peer.NewOrchestrator(
		cfg.ICEServers,
		s.sig,
		peer.LocalTracks{Video: trackOrNil(local.VideoTrack), Audio: trackOrNil(local.AudioTrack)},
		ev.Peer,
	)

	if err := s.sig.Connect(ctx); err != nil {
		s.controller.Close()
		s.orch.Close()
		return nil, err
	}

	if err := s.sig.JoinRoom(events.JoinRoomEvent{
		RoomID:      cfg.RoomID,
		UserID:      cfg.UserID,
		DisplayName: cfg.DisplayName,
		Role:        cfg.Role,
	}); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.sig.SendMediaState(cfg.RoomID, local.VideoEnabled(), local.AudioEnabled()); err != nil {
		slog.Warn("announce initial media state", slog.Any(constant.Error, err))
	}

	return s, nil
}

func trackOrNil(track *webrtc.TrackLocalStaticSample) webrtc.TrackLocal {
	if track == nil {
		return nil
	}
	return track
}

func (s *Session) signalingHandlers() signaling.Handlers {
	return signaling.Handlers{
		OnRoomParticipants: func(ev events.RoomParticipantsEvent) {
			s.orch.HandleRoomSnapshot(ev)
			if s.events.OnRoster != nil {
				s.events.OnRoster(ev)
			}
		},
		OnUserJoined: func(ev events.UserJoinedEvent) {
			s.orch.HandleParticipantJoined(ev)
			if s.events.OnParticipantJoin != nil {
				s.events.OnParticipantJoin(ev)
			}
		},
		OnUserLeft: func(ev events.UserLeftEvent) {
			s.orch.HandlePeerLeft(ev.ConnID)
			if s.events.OnParticipantLeave != nil {
				s.events.OnParticipantLeave(ev)
			}
		},
		OnOffer: func(ev events.PeerOfferEvent) {
			s.orch.HandleOffer(ev.ConnID, ev.Offer)
		},
		OnAnswer: func(ev events.PeerAnswerEvent) {
			s.orch.HandleAnswer(ev.ConnID, ev.Answer)
		},
		OnCandidate: func(ev events.PeerICECandidateEvent) {
			s.orch.HandleCandidate(ev.ConnID, ev.Candidate)
		},
		OnChatMessage: func(ev events.ChatMessageBroadcast) {
			if s.events.OnChat != nil {
				s.events.OnChat(ev)
			}
		},
		OnUserTyping: func(ev events.UserTypingEvent) {
			if s.events.OnTyping != nil {
				s.events.OnTyping(ev)
			}
		},
		OnPeerMediaState: func(ev events.PeerMediaStateEvent) {
			if s.events.OnPeerMediaState != nil {
				s.events.OnPeerMediaState(ev)
			}
		},
		OnPeerScreenShareStart: func(ev events.PeerScreenShareEvent) {
			if s.events.OnPeerScreenShare != nil {
				s.events.OnPeerScreenShare(ev.ConnID, true)
			}
		},
		OnPeerScreenShareStop: func(ev events.PeerScreenShareEvent) {
			if s.events.OnPeerScreenShare != nil {
				s.events.OnPeerScreenShare(ev.ConnID, false)
			}
		},
		OnRecordingState: func(ev events.RecordingStateBroadcast) {
			if s.events.OnRecordingChanged != nil {
				s.events.OnRecordingChanged(ev.IsRecording)
			}
		},
		OnStateChange: s.events.OnSignalingState,
	}
}

// SetVideoEnabled gates the camera pump and announces the new state. The
// pump keeps running when disabled, so enabling again never renegotiates.
func (s *Session) SetVideoEnabled(enabled bool) error {
	s.local.SetVideoEnabled(enabled)
	return s.sig.SendMediaState(s.cfg.RoomID, s.local.VideoEnabled(), s.local.AudioEnabled())
}

func (s *Session) SetAudioEnabled(enabled bool) error {
	s.local.SetAudioEnabled(enabled)
	return s.sig.SendMediaState(s.cfg.RoomID, s.local.VideoEnabled(), s.local.AudioEnabled())
}

func (s *Session) SendChat(text string) error {
	return s.sig.SendChatMessage(s.cfg.RoomID, text)
}

func (s *Session) SetTyping(isTyping bool) error {
	return s.sig.SendTyping(s.cfg.RoomID, isTyping)
}

// StartScreenShare swaps the screen track into every link's video sender and
// notifies the room. No renegotiation happens.
func (s *Session) StartScreenShare() error {
	track, err := s.controller.StartScreenCapture()
	if err != nil {
		return fmt.Errorf("start screen capture: %w", err)
	}

	if err := s.orch.ReplaceOutboundVideo(track); err != nil {
		s.controller.StopScreenCapture()
		return fmt.Errorf("replace outbound video: %w", err)
	}

	return s.sig.SendScreenShareStart(s.cfg.RoomID)
}

// StopScreenShare restores the camera track. Idempotent; reached from the
// stop button, the source-ended funnel and Close.
func (s *Session) StopScreenShare() error {
	if !s.controller.ScreenActive() {
		return nil
	}

	s.controller.StopScreenCapture()

	if err := s.orch.ReplaceOutboundVideo(trackOrNil(s.local.VideoTrack)); err != nil {
		return fmt.Errorf("restore camera track: %w", err)
	}

	return s.sig.SendScreenShareStop(s.cfg.RoomID)
}

func (s *Session) ScreenSharing() bool { return s.controller.ScreenActive() }

// StartRecording begins local capture of the composed stream and announces
// the state to everyone in the room, the initiator included.
func (s *Session) StartRecording() error {
	if s.cfg.Uploader == nil {
		return fmt.Errorf("recording requires an upload target")
	}

	if err := s.controller.StartRecording(s.cfg.RoomID, s.cfg.Uploader); err != nil {
		return err
	}

	return s.sig.SendRecordingState(s.cfg.RoomID, true)
}

// StopRecording finalizes the blob, hands it to the uploader and announces
// the state change.
func (s *Session) StopRecording() error {
	if err := s.controller.StopRecording(); err != nil {
		return err
	}

	return s.sig.SendRecordingState(s.cfg.RoomID, false)
}

func (s *Session) Recording() bool { return s.controller.Recording() }

// Streams is the remote-participant to media-stream map for rendering.
func (s *Session) Streams() map[string]*peer.RemoteStream { return s.orch.Streams() }

// RetryPeer re-dials one failed peer without touching the rest of the mesh.
func (s *Session) RetryPeer(remoteID string) error { return s.orch.RetryPeer(remoteID) }

func (s *Session) SignalingState() signaling.State { return s.sig.State() }

func (s *Session) PeerCount() int { return s.orch.LinkCount() }

// Close leaves the room and releases capture, links and the socket. Safe on
// every exit path, including after a partially failed Join.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.StopScreenShare(); err != nil {
			slog.Warn("stop screen share on close", slog.Any(constant.Error, err))
		}

		s.controller.Close()
		s.orch.Close()

		if err := s.sig.LeaveRoom(); err != nil {
			slog.Debug("send leave on close", slog.Any(constant.Error, err))
		}

		s.sig.Close()
	})
}
