package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream groups the tracks arriving from one remote participant. It
// is what the UI renders into that peer's tile.
type RemoteStream struct {
	RemoteID string

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) add(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracks = append(s.tracks, track)
}

// Tracks returns the tracks received so far.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)

	return out
}
