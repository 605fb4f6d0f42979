package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// NegotiationState tracks where one link is in the offer/answer exchange.
type NegotiationState string

const (
	StateNew             NegotiationState = "new"
	StateHaveLocalOffer  NegotiationState = "have-local-offer"
	StateHaveRemoteOffer NegotiationState = "have-remote-offer"
	StateStable          NegotiationState = "stable"
	StateClosed          NegotiationState = "closed"
)

// Link is the client-local record of one peer transport: exactly one exists
// per remote participant. Field access is serialized by the orchestrator
// mutex.
type Link struct {
	remoteID string
	pc       *webrtc.PeerConnection

	state NegotiationState

	// pendingCandidates buffers remote ICE until the remote description is
	// set; applying earlier is the classic negotiation race.
	pendingCandidates []webrtc.ICECandidateInit
	remoteDescSet     bool

	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender
}

func (l *Link) RemoteID() string { return l.remoteID }

func (l *Link) State() NegotiationState { return l.state }

// attachLocal adds the shared local tracks as senders on this link.
func (l *Link) attachLocal(video, audio webrtc.TrackLocal) error {
	if video != nil {
		sender, err := l.pc.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		l.videoSender = sender
	}

	if audio != nil {
		sender, err := l.pc.AddTrack(audio)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		l.audioSender = sender
	}

	return nil
}

// setRemoteDescription applies the remote SDP and flushes every buffered
// candidate. Stale or duplicate candidate errors are swallowed: by the time
// they surface the link either works or has failed on its own terms.
func (l *Link) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	l.remoteDescSet = true

	for _, candidate := range l.pendingCandidates {
		_ = l.pc.AddICECandidate(candidate)
	}
	l.pendingCandidates = nil

	return nil
}

// addCandidate buffers or applies one remote ICE candidate.
func (l *Link) addCandidate(candidate webrtc.ICECandidateInit) {
	if !l.remoteDescSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return
	}

	_ = l.pc.AddICECandidate(candidate)
}

// close releases the transport. Safe to call repeatedly.
func (l *Link) close() {
	if l.state == StateClosed {
		return
	}

	l.state = StateClosed
	l.pendingCandidates = nil
	_ = l.pc.Close()
}
