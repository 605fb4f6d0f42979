// Package peer maintains exactly one transport per remote participant and
// drives the offer/answer/ICE exchange. The new joiner always dials the
// members of its join snapshot; existing members only respond, so two sides
// never offer at once.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/domain"
	"github.com/classmesh/classmesh/internal/domain/events"
)

// SignalSender carries the orchestrator's outbound signaling.
type SignalSender interface {
	SendOffer(targetID string, sdp webrtc.SessionDescription) error
	SendAnswer(targetID string, sdp webrtc.SessionDescription) error
	SendCandidate(targetID string, candidate webrtc.ICECandidateInit) error
}

// LocalTracks is what the orchestrator attaches to every link. Tracks are
// read-shared; mutation goes through ReplaceOutboundVideo.
type LocalTracks struct {
	Video webrtc.TrackLocal
	Audio webrtc.TrackLocal
}

// Callbacks surface per-peer lifecycle to the UI layer. A single link's
// failure reaches only that peer's tile.
type Callbacks struct {
	OnRemoteTrack func(remoteID string, track *webrtc.TrackRemote)
	OnPeerState   func(remoteID string, state webrtc.PeerConnectionState)
	OnPeerFailed  func(remoteID string, err error)
}

// PacketSink observes remote RTP, e.g. for a stats overlay. Optional.
type PacketSink func(remoteID string, pkt *rtp.Packet)

type Orchestrator struct {
	webrtcConfig webrtc.Configuration
	signals      SignalSender
	local        LocalTracks
	callbacks    Callbacks
	packetSink   PacketSink

	mu      sync.Mutex
	links   map[string]*Link
	streams map[string]*RemoteStream
	closed  bool
}

func NewOrchestrator(
	iceServers []webrtc.ICEServer,
	signals SignalSender,
	local LocalTracks,
	callbacks Callbacks,
) *Orchestrator {
	return &Orchestrator{
		webrtcConfig: webrtc.Configuration{ICEServers: iceServers},
		signals:      signals,
		local:        local,
		callbacks:    callbacks,
		links:        make(map[string]*Link),
		streams:      make(map[string]*RemoteStream),
	}
}

// SetPacketSink must be called before any link exists.
func (o *Orchestrator) SetPacketSink(sink PacketSink) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.packetSink = sink
}

// HandleRoomSnapshot dials every member of the join snapshot: one initiator
// link each, offer sent via the hub.
func (o *Orchestrator) HandleRoomSnapshot(participants events.RoomParticipantsEvent) {
	for _, p := range participants {
		if err := o.dial(p.ConnID); err != nil {
			o.failPeer(p.ConnID, err)
		}
	}
}

// HandleParticipantJoined intentionally does nothing: the joiner dials us,
// and the link is created when its offer arrives.
func (o *Orchestrator) HandleParticipantJoined(ev events.UserJoinedEvent) {
	slog.Debug("participant joined, waiting for their offer", slog.String(constant.PeerID, ev.ConnID))
}

func (o *Orchestrator) dial(remoteID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}

	if _, exists := o.links[remoteID]; exists {
		// One link per pair, never two.
		return nil
	}

	link, err := o.newLink(remoteID)
	if err != nil {
		return err
	}

	o.links[remoteID] = link

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		o.removeLinkLocked(remoteID, link)
		return fmt.Errorf("create offer: %w", err)
	}

	if err = link.pc.SetLocalDescription(offer); err != nil {
		o.removeLinkLocked(remoteID, link)
		return fmt.Errorf("set local description: %w", err)
	}

	link.state = StateHaveLocalOffer

	if err = o.signals.SendOffer(remoteID, offer); err != nil {
		o.removeLinkLocked(remoteID, link)
		return fmt.Errorf("send offer: %w", err)
	}

	return nil
}

// HandleOffer answers a remote initiator: responder link created on demand,
// remote description applied, buffered ICE flushed, answer returned.
func (o *Orchestrator) HandleOffer(remoteID string, rawSDP json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(rawSDP, &offer); err != nil {
		slog.Warn("malformed offer", slog.Any(constant.Error, err), slog.String(constant.PeerID, remoteID))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	link, exists := o.links[remoteID]
	if !exists {
		created, err := o.newLink(remoteID)
		if err != nil {
			o.mu.Unlock()
			o.failPeer(remoteID, err)
			o.mu.Lock()
			return
		}

		link = created
		o.links[remoteID] = link
	}

	if err := link.setRemoteDescription(offer); err != nil {
		o.dropLinkLocked(remoteID, link, err)
		return
	}

	link.state = StateHaveRemoteOffer

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		o.dropLinkLocked(remoteID, link, fmt.Errorf("create answer: %w", err))
		return
	}

	if err = link.pc.SetLocalDescription(answer); err != nil {
		o.dropLinkLocked(remoteID, link, fmt.Errorf("set local description: %w", err))
		return
	}

	link.state = StateStable

	if err = o.signals.SendAnswer(remoteID, answer); err != nil {
		o.dropLinkLocked(remoteID, link, fmt.Errorf("send answer: %w", err))
	}
}

// HandleAnswer completes a link we initiated. An answer without a matching
// have-local-offer link is stale and dropped.
func (o *Orchestrator) HandleAnswer(remoteID string, rawSDP json.RawMessage) {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(rawSDP, &answer); err != nil {
		slog.Warn("malformed answer", slog.Any(constant.Error, err), slog.String(constant.PeerID, remoteID))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	link, exists := o.links[remoteID]
	if !exists || link.state != StateHaveLocalOffer {
		slog.Debug("answer for unknown or settled link dropped", slog.String(constant.PeerID, remoteID))
		return
	}

	if err := link.setRemoteDescription(answer); err != nil {
		o.dropLinkLocked(remoteID, link, err)
		return
	}

	link.state = StateStable
}

// HandleCandidate buffers until the remote description lands, then applies
// directly. Candidates for unknown links are dropped silently.
func (o *Orchestrator) HandleCandidate(remoteID string, rawCandidate json.RawMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(rawCandidate, &candidate); err != nil {
		slog.Warn("malformed candidate", slog.Any(constant.Error, err), slog.String(constant.PeerID, remoteID))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	link, exists := o.links[remoteID]
	if !exists || link.state == StateClosed {
		return
	}

	link.addCandidate(candidate)
}

// HandlePeerLeft closes and discards the link. Idempotent.
func (o *Orchestrator) HandlePeerLeft(remoteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	link, exists := o.links[remoteID]
	if !exists {
		return
	}

	o.removeLinkLocked(remoteID, link)
}

// ReplaceOutboundVideo swaps the outbound video sender's track on every open
// link under one lock hold: a track replacement, not a renegotiation.
func (o *Orchestrator) ReplaceOutboundVideo(track webrtc.TrackLocal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error

	for remoteID, link := range o.links {
		if link.state == StateClosed || link.videoSender == nil {
			continue
		}

		if err := link.videoSender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("replace track for %s: %w", remoteID, err))
		}
	}

	return errors.Join(errs...)
}

// RetryPeer drops a failed link and dials the peer again. Manual recovery
// for a link that never reached connected.
func (o *Orchestrator) RetryPeer(remoteID string) error {
	o.mu.Lock()
	if link, exists := o.links[remoteID]; exists {
		o.removeLinkLocked(remoteID, link)
	}
	o.mu.Unlock()

	return o.dial(remoteID)
}

// LinkCount reports open links; at quiescence it equals room size minus one.
func (o *Orchestrator) LinkCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, link := range o.links {
		if link.state != StateClosed {
			n++
		}
	}

	return n
}

// LinkState reports one link's negotiation state for diagnostics.
func (o *Orchestrator) LinkState(remoteID string) (NegotiationState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	link, exists := o.links[remoteID]
	if !exists {
		return "", false
	}

	return link.state, true
}

// Close tears down every link. Idempotent; part of the session's scoped
// cleanup on every exit path.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	o.closed = true

	for remoteID, link := range o.links {
		link.close()
		delete(o.links, remoteID)
		delete(o.streams, remoteID)
	}
}

func (o *Orchestrator) newLink(remoteID string) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(o.webrtcConfig)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	link := &Link{
		remoteID: remoteID,
		pc:       pc,
		state:    StateNew,
	}

	if err := link.attachLocal(o.local.Video, o.local.Audio); err != nil {
		_ = pc.Close()
		return nil, err
	}

	// Every async continuation below re-checks that this link is still the
	// table's current instance before acting, so teardown cancels them.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !o.isCurrent(remoteID, link) {
			return
		}

		if err := o.signals.SendCandidate(remoteID, c.ToJSON()); err != nil {
			slog.Warn("send candidate", slog.Any(constant.Error, err), slog.String(constant.PeerID, remoteID))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !o.addRemoteTrack(remoteID, link, track) {
			return
		}

		if o.callbacks.OnRemoteTrack != nil {
			o.callbacks.OnRemoteTrack(remoteID, track)
		}

		go o.readRemote(remoteID, link, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if !o.isCurrent(remoteID, link) {
			return
		}

		if o.callbacks.OnPeerState != nil {
			o.callbacks.OnPeerState(remoteID, state)
		}

		if state == webrtc.PeerConnectionStateFailed {
			o.failPeer(remoteID, domain.ErrNegotiationFailed)
		}
	})

	return link, nil
}

// readRemote drains RTP from one remote track until it ends or the link is
// replaced.
func (o *Orchestrator) readRemote(remoteID string, link *Link, track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("remote track read ended", slog.Any(constant.Error, err), slog.String(constant.PeerID, remoteID))
			}
			return
		}

		if !o.isCurrent(remoteID, link) {
			return
		}

		if o.packetSink != nil {
			o.packetSink(remoteID, pkt)
		}
	}
}

func (o *Orchestrator) isCurrent(remoteID string, link *Link) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.links[remoteID] == link
}

// addRemoteTrack records a track under its peer's stream. Returns false
// when the link is no longer current.
func (o *Orchestrator) addRemoteTrack(remoteID string, link *Link, track *webrtc.TrackRemote) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.links[remoteID] != link {
		return false
	}

	stream, exists := o.streams[remoteID]
	if !exists {
		stream = &RemoteStream{RemoteID: remoteID}
		o.streams[remoteID] = stream
	}

	stream.add(track)

	return true
}

// Streams is the remote-participant to media-stream map rendered by the UI.
func (o *Orchestrator) Streams() map[string]*RemoteStream {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]*RemoteStream, len(o.streams))
	for remoteID, stream := range o.streams {
		out[remoteID] = stream
	}

	return out
}

// removeLinkLocked closes and deletes one link and its exposed stream.
// Caller holds o.mu.
func (o *Orchestrator) removeLinkLocked(remoteID string, link *Link) {
	link.close()
	delete(o.links, remoteID)
	delete(o.streams, remoteID)
}

// dropLinkLocked removes a link after a negotiation error and tells the UI
// about that peer only. Caller holds o.mu.
func (o *Orchestrator) dropLinkLocked(remoteID string, link *Link, err error) {
	o.removeLinkLocked(remoteID, link)

	o.mu.Unlock()
	o.failPeer(remoteID, err)
	o.mu.Lock()
}

func (o *Orchestrator) failPeer(remoteID string, err error) {
	slog.Warn(
		"peer link failed",
		slog.Any(constant.Error, err),
		slog.String(constant.PeerID, remoteID),
	)

	if o.callbacks.OnPeerFailed != nil {
		o.callbacks.OnPeerFailed(remoteID, err)
	}
}
