package media

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/application/constant"
)

// Constraints selects which capture kinds Acquire opens.
type Constraints struct {
	Video bool
	Audio bool
}

// Session is the local media session: the camera/mic tracks with their
// enabled flags. Exclusively owned by the local client for the classroom
// session's lifetime.
type Session struct {
	VideoTrack *webrtc.TrackLocalStaticSample
	AudioTrack *webrtc.TrackLocalStaticSample

	videoEnabled atomic.Bool
	audioEnabled atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
}

// Controller drives the capture lifecycle over a DeviceProvider.
type Controller struct {
	provider DeviceProvider

	mu      sync.Mutex
	session *Session

	screenTrack  *webrtc.TrackLocalStaticSample
	screenStop   chan struct{}
	screenActive bool

	// onScreenEnded funnels the source-level end of screen capture (OS
	// chrome) into the same stop path as the explicit call.
	onScreenEnded func()

	recorder *Recorder
}

func NewController(provider DeviceProvider) *Controller {
	return &Controller{provider: provider}
}

// SetScreenEndedHandler registers the stop-sharing funnel. Must be set
// before StartScreenCapture.
func (c *Controller) SetScreenEndedHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onScreenEnded = fn
}

func (c *Controller) EnumerateDevices() ([]Device, error) {
	return c.provider.EnumerateDevices()
}

// Acquire opens the requested capture kinds and starts their sample pumps.
// Errors keep the domain taxonomy: permission refusals and missing devices
// stay distinguishable for the caller.
func (c *Controller) Acquire(constraints Constraints) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session, nil
	}

	s := &Session{stop: make(chan struct{})}
	s.videoEnabled.Store(constraints.Video)
	s.audioEnabled.Store(constraints.Audio)

	if constraints.Video {
		src, err := c.provider.OpenCamera()
		if err != nil {
			return nil, fmt.Errorf("open camera: %w", err)
		}

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "classmesh-"+uuid.NewString(),
		)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("create video track: %w", err)
		}

		s.VideoTrack = track
		go c.pump(src, track, &s.videoEnabled, s.stop, nil)
	}

	if constraints.Audio {
		src, err := c.provider.OpenMicrophone()
		if err != nil {
			if s.VideoTrack != nil {
				close(s.stop)
			}
			return nil, fmt.Errorf("open microphone: %w", err)
		}

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "classmesh-"+uuid.NewString(),
		)
		if err != nil {
			src.Close()
			close(s.stop)
			return nil, fmt.Errorf("create audio track: %w", err)
		}

		s.AudioTrack = track
		go c.pump(src, track, &s.audioEnabled, s.stop, nil)
	}

	c.session = s

	return s, nil
}

// pump forwards samples from a source to a track until the source ends or
// the session stops. A disabled track keeps the pump running and drops
// samples, so re-enabling never renegotiates and never loses the source.
func (c *Controller) pump(
	src Source,
	track *webrtc.TrackLocalStaticSample,
	enabled *atomic.Bool,
	stop <-chan struct{},
	onEnded func(),
) {
	// Closing the source is what unblocks a pending ReadSample on stop.
	go func() {
		<-stop
		src.Close()
	}()

	for {
		sample, err := src.ReadSample()
		if err != nil {
			select {
			case <-stop:
				// Stopped from our side, not the source ending.
			default:
				if onEnded != nil {
					onEnded()
				}
			}
			return
		}

		if rec := c.currentRecorder(); rec != nil {
			rec.WriteSample(track.Kind(), sample)
		}

		if !enabled.Load() {
			continue
		}

		if err := track.WriteSample(sample); err != nil {
			slog.Warn("write local sample", slog.Any(constant.Error, err))
		}
	}
}

func (s *Session) SetVideoEnabled(enabled bool) { s.videoEnabled.Store(enabled) }

func (s *Session) SetAudioEnabled(enabled bool) { s.audioEnabled.Store(enabled) }

func (s *Session) VideoEnabled() bool { return s.videoEnabled.Load() }

func (s *Session) AudioEnabled() bool { return s.audioEnabled.Load() }

// StartScreenCapture opens the display source on its own track. The track is
// swapped into peer links by the orchestrator; no renegotiation happens here.
func (c *Controller) StartScreenCapture() (*webrtc.TrackLocalStaticSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screenActive {
		return c.screenTrack, nil
	}

	src, err := c.provider.OpenScreen()
	if err != nil {
		return nil, fmt.Errorf("open screen: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "classmesh-screen-"+uuid.NewString(),
	)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create screen track: %w", err)
	}

	stop := make(chan struct{})
	c.screenTrack = track
	c.screenStop = stop
	c.screenActive = true

	var always atomic.Bool
	always.Store(true)

	ended := c.onScreenEnded

	go c.pump(src, track, &always, stop, func() {
		// Source ended underneath us (OS stop-sharing chrome). Same path
		// as the explicit button.
		if ended != nil {
			ended()
		}
	})

	return track, nil
}

// StopScreenCapture tears the display capture down. Idempotent; called from
// both the UI button and the source-ended funnel.
func (c *Controller) StopScreenCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.screenActive {
		return
	}

	c.screenActive = false
	close(c.screenStop)
	c.screenTrack = nil
}

func (c *Controller) ScreenActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.screenActive
}

// StartRecording begins capturing the composed local stream into chunks.
func (c *Controller) StartRecording(roomID string, uploader BlobUploader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recorder != nil {
		return nil
	}

	c.recorder = NewRecorder(roomID, uploader)

	return nil
}

// StopRecording finalizes the chunks into one blob and hands it to the
// upload target.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	if rec == nil {
		return nil
	}

	return rec.Stop()
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recorder != nil
}

func (c *Controller) currentRecorder() *Recorder {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recorder
}

// Close stops every pump and capture. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		session.stopOnce.Do(func() { close(session.stop) })
	}

	c.StopScreenCapture()

	if err := c.StopRecording(); err != nil {
		slog.Error("finalize recording on close", slog.Any(constant.Error, err))
	}
}
