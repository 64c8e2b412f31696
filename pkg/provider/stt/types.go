package stt

import "time"

// Transcript is one recognition result. Interim results are revised by later
// ones; a final result is never revised.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal marks an authoritative result.
	IsFinal bool

	// Confidence in [0,1], zero when the service does not report it.
	Confidence float64

	// Timestamp is the start of the utterance relative to the session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}
