// Package voice holds the error taxonomy shared by the voice-interaction
// core. The sub-packages implement the pieces of a voice session:
//
//   - amplitude samples microphone loudness once per animation frame and
//     shares the acquired microphone with everyone else.
//   - capture wraps continuous speech recognition with auto-restart and the
//     quiet-period debounce that marks an utterance as settled.
//   - playback speaks replies with a voice-selection and prosody policy.
//   - turn is the state machine that keeps microphone and speaker apart.
//   - visualizer maps amplitude and phase to bar heights.
//   - recorder captures raw dictation clips for batch transcription.
package voice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/cadence/pkg/audio"
	"github.com/MrWong99/cadence/pkg/provider/stt"
)

var (
	// ErrPermissionDenied means microphone or recognition access was refused.
	// Terminal: voice mode closes.
	ErrPermissionDenied = errors.New("voice: permission denied")

	// ErrDeviceUnavailable means no usable microphone exists. Terminal.
	ErrDeviceUnavailable = errors.New("voice: audio device unavailable")

	// ErrRecognitionUnavailable means no speech recognition engine is
	// configured. Terminal, and detectable before voice mode is offered.
	ErrRecognitionUnavailable = errors.New("voice: speech recognition unavailable")

	// ErrNetwork is a transient transport failure of a speech service.
	ErrNetwork = errors.New("voice: network error")

	// ErrNoSpeechDetected means an utterance was submitted without any
	// non-whitespace text.
	ErrNoSpeechDetected = errors.New("voice: no speech detected")

	// ErrResponseTimeout means the coach did not answer within the
	// processing timeout.
	ErrResponseTimeout = errors.New("voice: response timed out")

	// ErrResponseGenerator wraps a failure of the coach-response generator.
	ErrResponseGenerator = errors.New("voice: response generator failed")
)

// RecognitionError is a recognition failure that fits none of the sentinel
// errors. Code is the engine's own error code.
type RecognitionError struct {
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("voice: recognition error %s: %v", e.Code, e.Err)
	}
	return "voice: recognition error " + e.Code
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Terminal reports whether err ends voice mode. Everything else leaves the
// session open for another attempt.
func Terminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrRecognitionUnavailable)
}

// Kind returns a stable snake_case label for err, used in metrics and on the
// wire.
func Kind(err error) string {
	var re *RecognitionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrRecognitionUnavailable):
		return "recognition_unavailable"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrNoSpeechDetected):
		return "no_speech"
	case errors.Is(err, ErrResponseTimeout):
		return "response_timeout"
	case errors.Is(err, ErrResponseGenerator):
		return "response_generator"
	case errors.As(err, &re):
		return "recognition"
	default:
		return "other"
	}
}

// FromDevice maps a microphone open failure onto the taxonomy. Failures that
// are not a refusal count as an unavailable device.
func FromDevice(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrPermissionDenied):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

// FromRecognition maps a speech-to-text failure onto the taxonomy.
func FromRecognition(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrNetwork), errors.Is(err, ErrRecognitionUnavailable):
		return err
	case errors.Is(err, stt.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, stt.ErrNetwork):
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	default:
		var re *RecognitionError
		if errors.As(err, &re) {
			return err
		}
		return &RecognitionError{Code: "engine", Err: err}
	}
}
