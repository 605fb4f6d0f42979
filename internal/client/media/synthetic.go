package media

import (
	"io"
	"sync"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// SyntheticProvider generates placeholder samples at capture rates. Used by
// the headless client and in tests, where no real capture stack exists.
type SyntheticProvider struct{}

func NewSyntheticProvider() *SyntheticProvider { return &SyntheticProvider{} }

func (p *SyntheticProvider) EnumerateDevices() ([]Device, error) {
	return []Device{
		{ID: "synthetic-camera", Label: "Synthetic Camera", Kind: DeviceKindCamera},
		{ID: "synthetic-mic", Label: "Synthetic Microphone", Kind: DeviceKindMicrophone},
		{ID: "synthetic-screen", Label: "Synthetic Screen", Kind: DeviceKindScreen},
	}, nil
}

func (p *SyntheticProvider) OpenCamera() (Source, error) {
	return newSyntheticSource(33*time.Millisecond, 1200), nil
}

func (p *SyntheticProvider) OpenMicrophone() (Source, error) {
	return newSyntheticSource(20*time.Millisecond, 160), nil
}

func (p *SyntheticProvider) OpenScreen() (Source, error) {
	return newSyntheticSource(66*time.Millisecond, 2400), nil
}

// syntheticSource emits zero-filled samples on a fixed interval until closed.
type syntheticSource struct {
	interval time.Duration
	size     int

	closeOnce sync.Once
	closed    chan struct{}
}

func newSyntheticSource(interval time.Duration, size int) *syntheticSource {
	return &syntheticSource{
		interval: interval,
		size:     size,
		closed:   make(chan struct{}),
	}
}

func (s *syntheticSource) ReadSample() (pionmedia.Sample, error) {
	select {
	case <-s.closed:
		return pionmedia.Sample{}, io.EOF
	case <-time.After(s.interval):
	}

	return pionmedia.Sample{
		Data:     make([]byte, s.size),
		Duration: s.interval,
	}, nil
}

func (s *syntheticSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
