package permissions

import "errors"

// ErrMicrophoneDenied is returned when the OS has not granted audio capture.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// RequiresMicrophone reports whether a capture backend opens real hardware.
func RequiresMicrophone(backend string) bool {
	switch backend {
	case "portaudio", "miniaudio":
		return true
	default:
		return false
	}
}
