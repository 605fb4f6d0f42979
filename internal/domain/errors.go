package domain

import "errors"

var (
	// ErrPermissionDenied means the user refused camera/mic/screen access.
	// Fatal to that capability; the session continues without it.
	ErrPermissionDenied = errors.New("media permission denied")

	// ErrDeviceUnavailable means no matching capture device exists.
	ErrDeviceUnavailable = errors.New("media device unavailable")

	// ErrSignalingUnreachable means the hub connection is lost or was never
	// established. Callers surface a reconnecting state, never fail silently.
	ErrSignalingUnreachable = errors.New("signaling unreachable")

	// ErrNegotiationFailed means one peer link never reached connected.
	// Isolated to that participant.
	ErrNegotiationFailed = errors.New("peer negotiation failed")

	// ErrStaleEvent marks a message referencing an unknown or closed room,
	// participant or link. Logged and ignored, never surfaced.
	ErrStaleEvent = errors.New("stale event dropped")
)
