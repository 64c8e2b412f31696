package turn

// State is the turn-taking state of a voice session.
type State int32

const (
	// Idle: voice mode is off; the microphone is released.
	Idle State = iota
	// Listening: speech capture is running.
	Listening
	// Processing: an utterance was submitted and the coach is answering.
	Processing
	// Speaking: the reply is being played; capture is suppressed.
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}
