package audio

import "errors"

var (
	// ErrInvalidFormat indicates an unsupported sample format, rate or
	// channel count. Surfaced synchronously before a session starts.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrDeviceNotFound indicates the requested capture device is not
	// available. Surfaced synchronously; the session never leaves idle.
	ErrDeviceNotFound = errors.New("capture device not found")
)
