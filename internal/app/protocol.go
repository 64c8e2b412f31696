package app

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/cadence/internal/store"
	"github.com/MrWong99/cadence/internal/voice"
	"github.com/MrWong99/cadence/internal/voice/playback"
)

// Client → server control messages.
const (
	TypeStart         = "start"
	TypeSubmit        = "submit"
	TypeFinish        = "finish"
	TypeStop          = "stop"
	TypeToggleSpeech  = "toggle_speech"
	TypeSetPreference = "set_voice_preference"
	TypeRecordStart   = "record_start"
	TypeRecordStop    = "record_stop"
)

// Server → client events.
const (
	TypeSession       = "session"
	TypeState         = "state"
	TypeTranscript    = "transcript"
	TypeUtterance     = "utterance"
	TypeReply         = "reply"
	TypeError         = "error"
	TypeBars          = "bars"
	TypeSpeechEnabled = "speech_enabled"
	TypeVoicePref     = "voice_preference"
	TypeRecording     = "recording"
	TypeDictation     = "dictation"
)

// ErrBusy is reported when a request conflicts with what the session is
// doing, such as starting dictation while voice mode is on.
var ErrBusy = errors.New("app: session busy")

// ErrInvalidPreference is returned for an unknown gender or style.
var ErrInvalidPreference = errors.New("app: invalid voice preference")

type sessionEvent struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	RecognitionAvailable bool   `json:"recognition_available"`
	DictationAvailable   bool   `json:"dictation_available"`
}

type stateEvent struct {
	State    string `json:"state"`
	Previous string `json:"previous"`
}

type textEvent struct {
	Text string `json:"text"`
}

type errorEvent struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Terminal bool   `json:"terminal"`
}

type barsEvent struct {
	Phase   string    `json:"phase"`
	Heights []float64 `json:"heights"`
}

type flagEvent struct {
	Enabled bool `json:"enabled"`
}

type recordingEvent struct {
	Active bool `json:"active"`
}

// PreferencePayload is the body of a voice preference update, both on the
// websocket and over HTTP.
type PreferencePayload struct {
	VoiceName string `json:"voice_name"`
	Gender    string `json:"gender"`
	Style     string `json:"style"`
}

var (
	validGenders = []string{"", "female", "male"}
	validStyles  = []string{"", playback.StyleNeutral, playback.StyleMotivational, playback.StyleProfessional, playback.StyleSupportive}
)

// Validate checks gender and style against the supported sets.
func (p PreferencePayload) Validate() error {
	if !slices.Contains(validGenders, p.Gender) {
		return fmt.Errorf("%w: gender %q", ErrInvalidPreference, p.Gender)
	}
	if !slices.Contains(validStyles, p.Style) {
		return fmt.Errorf("%w: style %q", ErrInvalidPreference, p.Style)
	}
	return nil
}

func (p PreferencePayload) playback() playback.Preference {
	return playback.Preference{VoiceName: p.VoiceName, Gender: p.Gender, Style: p.Style}
}

func (p PreferencePayload) stored() store.VoicePreference {
	return store.VoicePreference{VoiceName: p.VoiceName, Gender: p.Gender, Style: p.Style}
}

func errEvent(err error) errorEvent {
	kind := voice.Kind(err)
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, playback.ErrBusy):
		kind = "busy"
	case errors.Is(err, ErrInvalidPreference):
		kind = "invalid_request"
	}
	return errorEvent{Kind: kind, Message: err.Error(), Terminal: voice.Terminal(err)}
}
