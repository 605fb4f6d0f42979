// Package media owns the local capture lifecycle: camera/mic acquisition,
// enable toggles, screen capture and recording. Tracks are pion sample
// tracks shared read-only by every peer link; all mutation goes through the
// Controller.
package media

import (
	"github.com/pion/webrtc/v4/pkg/media"
)

type DeviceKind string

const (
	DeviceKindCamera     DeviceKind = "videoinput"
	DeviceKindMicrophone DeviceKind = "audioinput"
	DeviceKindScreen     DeviceKind = "screen"
)

// Device describes one capture device.
type Device struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// Source produces encoded samples for one track. ReadSample returns io.EOF
// when capture ends; for screen sources that includes the OS-level "stop
// sharing" chrome, which must behave exactly like the in-app stop button.
// Close unblocks a pending ReadSample and is safe to call more than once.
type Source interface {
	ReadSample() (media.Sample, error)
	Close() error
}

// DeviceProvider abstracts the platform capture stack. Acquisition is
// permission-gated: implementations return domain.ErrPermissionDenied or
// domain.ErrDeviceUnavailable so the UI can block vs. offer a retry.
type DeviceProvider interface {
	EnumerateDevices() ([]Device, error)

	OpenCamera() (Source, error)
	OpenMicrophone() (Source, error)
	OpenScreen() (Source, error)
}
