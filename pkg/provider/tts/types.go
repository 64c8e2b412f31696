package tts

import "strings"

// VoiceProfile describes a synthesis voice together with the prosody to
// apply when speaking with it.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Locale is a BCP-47 tag such as "en-US". May be only a language ("en").
	Locale string

	// Gender is "male", "female" or empty when unknown.
	Gender string

	// SpeedFactor scales the speaking rate; 1.0 is the voice's default.
	SpeedFactor float64

	// Pitch scales the pitch; 1.0 is the voice's default. Providers that cannot
	// change pitch ignore it.
	Pitch float64

	// Metadata holds provider-specific attributes (accent, age, category, ...).
	Metadata map[string]string
}

// Language returns the primary language subtag of the voice's locale in lower
// case, e.g. "en" for "en-GB".
func (v VoiceProfile) Language() string {
	return PrimaryLanguage(v.Locale)
}

// PrimaryLanguage returns the lower-cased primary subtag of a BCP-47 tag.
func PrimaryLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
