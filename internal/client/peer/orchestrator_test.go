package peer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/domain/events"
)

type queuedSignal struct {
	kind      string
	targetID  string
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

// fakeSignals queues outbound signaling instead of delivering it, so tests
// control exactly when and in what order the other side sees it.
type fakeSignals struct {
	mu    sync.Mutex
	queue []queuedSignal
}

func (f *fakeSignals) SendOffer(targetID string, sdp webrtc.SessionDescription) error {
	f.enqueue(queuedSignal{kind: "offer", targetID: targetID, sdp: sdp})
	return nil
}

func (f *fakeSignals) SendAnswer(targetID string, sdp webrtc.SessionDescription) error {
	f.enqueue(queuedSignal{kind: "answer", targetID: targetID, sdp: sdp})
	return nil
}

func (f *fakeSignals) SendCandidate(targetID string, candidate webrtc.ICECandidateInit) error {
	f.enqueue(queuedSignal{kind: "candidate", targetID: targetID, candidate: candidate})
	return nil
}

func (f *fakeSignals) enqueue(s queuedSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = append(f.queue, s)
}

func (f *fakeSignals) drain() []queuedSignal {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.queue
	f.queue = nil

	return out
}

func (f *fakeSignals) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.queue {
		if s.kind == kind {
			n++
		}
	}

	return n
}

func localTracks(t *testing.T) LocalTracks {
	t.Helper()

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test-video",
	)
	if err != nil {
		t.Fatalf("create video track: %v", err)
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test-audio",
	)
	if err != nil {
		t.Fatalf("create audio track: %v", err)
	}

	return LocalTracks{Video: video, Audio: audio}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return raw
}

// deliver moves queued signaling from one side to the other, tagged with the
// sender's connection id, until both queues drain.
func deliver(t *testing.T, a, b *Orchestrator, aID, bID string, aSig, bSig *fakeSignals) {
	t.Helper()

	for range 20 {
		moved := false

		for _, s := range aSig.drain() {
			moved = true
			dispatch(t, b, aID, s)
		}

		for _, s := range bSig.drain() {
			moved = true
			dispatch(t, a, bID, s)
		}

		if !moved {
			return
		}
	}
}

func dispatch(t *testing.T, to *Orchestrator, senderID string, s queuedSignal) {
	t.Helper()

	switch s.kind {
	case "offer":
		to.HandleOffer(senderID, mustMarshal(t, s.sdp))
	case "answer":
		to.HandleAnswer(senderID, mustMarshal(t, s.sdp))
	case "candidate":
		to.HandleCandidate(senderID, mustMarshal(t, s.candidate))
	}
}

func TestSnapshotDialsEachMemberExactlyOnce(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	snapshot := events.RoomParticipantsEvent{
		{ConnID: "peer-1"},
		{ConnID: "peer-2"},
	}

	o.HandleRoomSnapshot(snapshot)

	if o.LinkCount() != 2 {
		t.Fatalf("links = %d, want 2", o.LinkCount())
	}

	if got := sig.countKind("offer"); got != 2 {
		t.Fatalf("offers sent = %d, want 2", got)
	}

	// A repeated snapshot never creates a second link per pair.
	o.HandleRoomSnapshot(snapshot)

	if o.LinkCount() != 2 {
		t.Fatalf("links after repeat = %d, want 2", o.LinkCount())
	}

	if got := sig.countKind("offer"); got != 2 {
		t.Fatalf("offers after repeat = %d, want 2", got)
	}
}

func TestOfferAnswerExchangeReachesStableOnBothSides(t *testing.T) {
	aSig, bSig := &fakeSignals{}, &fakeSignals{}

	a := NewOrchestrator(nil, aSig, localTracks(t), Callbacks{})
	defer a.Close()
	b := NewOrchestrator(nil, bSig, localTracks(t), Callbacks{})
	defer b.Close()

	// a is the joiner: it dials b from its snapshot.
	a.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})

	if state, _ := a.LinkState("conn-b"); state != StateHaveLocalOffer {
		t.Fatalf("initiator state = %s, want %s", state, StateHaveLocalOffer)
	}

	deliver(t, a, b, "conn-a", "conn-b", aSig, bSig)

	if state, ok := a.LinkState("conn-b"); !ok || state != StateStable {
		t.Fatalf("initiator state = %s (%v), want %s", state, ok, StateStable)
	}

	if state, ok := b.LinkState("conn-a"); !ok || state != StateStable {
		t.Fatalf("responder state = %s (%v), want %s", state, ok, StateStable)
	}
}

func TestExistingMemberDoesNotDialTheJoiner(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleParticipantJoined(events.UserJoinedEvent{ConnID: "joiner"})

	if o.LinkCount() != 0 {
		t.Fatalf("links = %d, want 0 until the joiner's offer arrives", o.LinkCount())
	}

	if got := sig.countKind("offer"); got != 0 {
		t.Fatalf("offers = %d, existing member must wait for the joiner", got)
	}
}

func TestAnswerWithoutPendingOfferIsDropped(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleAnswer("stranger", mustMarshal(t, webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  "v=0\r\n",
	}))

	if o.LinkCount() != 0 {
		t.Fatalf("stray answer created a link")
	}
}

func TestCandidateForUnknownPeerIsDroppedSilently(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleCandidate("stranger", mustMarshal(t, webrtc.ICECandidateInit{Candidate: "candidate:1"}))

	if o.LinkCount() != 0 {
		t.Fatalf("stray candidate created a link")
	}
}

func TestCandidateBeforeRemoteDescriptionIsBuffered(t *testing.T) {
	aSig, bSig := &fakeSignals{}, &fakeSignals{}

	a := NewOrchestrator(nil, aSig, localTracks(t), Callbacks{})
	defer a.Close()
	b := NewOrchestrator(nil, bSig, localTracks(t), Callbacks{})
	defer b.Close()

	a.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})

	// Candidate arrives while the initiator still has no remote description.
	a.HandleCandidate("conn-b", mustMarshal(t, webrtc.ICECandidateInit{Candidate: ""}))

	if state, _ := a.LinkState("conn-b"); state != StateHaveLocalOffer {
		t.Fatalf("early candidate changed state to %s", state)
	}

	// The buffered candidate flushes when the answer lands.
	deliver(t, a, b, "conn-a", "conn-b", aSig, bSig)

	if state, _ := a.LinkState("conn-b"); state != StateStable {
		t.Fatalf("state after answer = %s, want %s", state, StateStable)
	}
}

func TestDuplicateCandidateOnStableLinkIsANoop(t *testing.T) {
	aSig, bSig := &fakeSignals{}, &fakeSignals{}

	a := NewOrchestrator(nil, aSig, localTracks(t), Callbacks{})
	defer a.Close()
	b := NewOrchestrator(nil, bSig, localTracks(t), Callbacks{})
	defer b.Close()

	a.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})
	deliver(t, a, b, "conn-a", "conn-b", aSig, bSig)

	if state, _ := a.LinkState("conn-b"); state != StateStable {
		t.Fatalf("precondition: state = %s, want %s", state, StateStable)
	}

	candidate := mustMarshal(t, webrtc.ICECandidateInit{Candidate: ""})
	a.HandleCandidate("conn-b", candidate)
	a.HandleCandidate("conn-b", candidate)

	if state, _ := a.LinkState("conn-b"); state != StateStable {
		t.Fatalf("duplicate candidate changed state to %s", state)
	}

	if a.LinkCount() != 1 {
		t.Fatalf("duplicate candidate disturbed the link table")
	}
}

func TestPeerLeftTearsDownLinkAndStream(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})

	o.HandlePeerLeft("conn-b")

	if o.LinkCount() != 0 {
		t.Fatalf("links after peer left = %d, want 0", o.LinkCount())
	}

	if _, exists := o.Streams()["conn-b"]; exists {
		t.Fatalf("stream survived its peer's departure")
	}

	// Second departure is a no-op, not a panic.
	o.HandlePeerLeft("conn-b")
}

func TestSignalsAfterTeardownAreIgnored(t *testing.T) {
	aSig, bSig := &fakeSignals{}, &fakeSignals{}

	a := NewOrchestrator(nil, aSig, localTracks(t), Callbacks{})
	defer a.Close()
	b := NewOrchestrator(nil, bSig, localTracks(t), Callbacks{})
	defer b.Close()

	a.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})

	queued := aSig.drain()
	a.HandlePeerLeft("conn-b")

	// The late answer belongs to the removed link's negotiation.
	for _, s := range queued {
		dispatch(t, b, "conn-a", s)
	}
	for _, s := range bSig.drain() {
		dispatch(t, a, "conn-b", s)
	}

	if a.LinkCount() != 0 {
		t.Fatalf("late answer resurrected a closed link")
	}
}

func TestRetryPeerDialsAgain(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "conn-b"}})
	sig.drain()

	if err := o.RetryPeer("conn-b"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	if o.LinkCount() != 1 {
		t.Fatalf("links after retry = %d, want 1", o.LinkCount())
	}

	if got := sig.countKind("offer"); got != 1 {
		t.Fatalf("offers after retry = %d, want a fresh one", got)
	}

	if state, _ := o.LinkState("conn-b"); state != StateHaveLocalOffer {
		t.Fatalf("state after retry = %s, want %s", state, StateHaveLocalOffer)
	}
}

func TestReplaceOutboundVideoAcrossLinks(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})
	defer o.Close()

	o.HandleRoomSnapshot(events.RoomParticipantsEvent{
		{ConnID: "peer-1"},
		{ConnID: "peer-2"},
	})

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "test-screen",
	)
	if err != nil {
		t.Fatalf("create screen track: %v", err)
	}

	if err := o.ReplaceOutboundVideo(screen); err != nil {
		t.Fatalf("replace with screen: %v", err)
	}

	// No renegotiation: the swap must not produce new offers.
	if got := sig.countKind("offer"); got != 2 {
		t.Fatalf("offers after replace = %d, want the original 2", got)
	}

	if err := o.ReplaceOutboundVideo(localTracks(t).Video); err != nil {
		t.Fatalf("replace back with camera: %v", err)
	}
}

func TestCloseIsIdempotentAndStopsDialing(t *testing.T) {
	sig := &fakeSignals{}
	o := NewOrchestrator(nil, sig, localTracks(t), Callbacks{})

	o.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "peer-1"}})

	o.Close()
	o.Close()

	if o.LinkCount() != 0 {
		t.Fatalf("links after close = %d, want 0", o.LinkCount())
	}

	sig.drain()
	o.HandleRoomSnapshot(events.RoomParticipantsEvent{{ConnID: "peer-2"}})

	if got := sig.countKind("offer"); got != 0 {
		t.Fatalf("closed orchestrator still dialed a peer")
	}

	// Give any stray gathering goroutines a beat before the test exits.
	time.Sleep(10 * time.Millisecond)
}
