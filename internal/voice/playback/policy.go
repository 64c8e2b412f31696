package playback

import (
	"strings"

	"github.com/MrWong99/cadence/pkg/provider/tts"
)

// Speaking styles.
const (
	StyleNeutral      = "neutral"
	StyleMotivational = "motivational"
	StyleProfessional = "professional"
	StyleSupportive   = "supportive"
)

// Preference is the user's voice preference. It is read at the start of
// every utterance, so changes apply to the next Speak call only.
type Preference struct {
	// VoiceName is matched as a case-sensitive substring of voice IDs and
	// names. Empty means no explicit preference.
	VoiceName string `json:"voice_name,omitempty" yaml:"voice_name"`

	// Gender is "female", "male" or empty.
	Gender string `json:"gender,omitempty" yaml:"gender"`

	// Style is one of the Style constants or empty for neutral.
	Style string `json:"style,omitempty" yaml:"style"`
}

// Prosody is the rate and pitch applied to an utterance.
type Prosody struct {
	Rate  float64
	Pitch float64
}

// ProsodyFor returns the prosody for a speaking style. Unknown styles are
// neutral.
func ProsodyFor(style string) Prosody {
	switch style {
	case StyleMotivational:
		return Prosody{Rate: 1.1, Pitch: 1.1}
	case StyleProfessional:
		return Prosody{Rate: 0.9, Pitch: 0.9}
	case StyleSupportive:
		return Prosody{Rate: 0.95, Pitch: 1.05}
	default:
		return Prosody{Rate: 1.0, Pitch: 1.0}
	}
}

// CandidateKey selects a candidate voice list.
type CandidateKey struct {
	Gender string
	Style  string
}

// DefaultCandidates lists preferred voice names per gender and style across
// the OpenAI and ElevenLabs catalogues. Names are tried in order.
var DefaultCandidates = map[CandidateKey][]string{
	{"female", StyleMotivational}: {"Domi", "nova", "coral"},
	{"female", StyleProfessional}: {"Rachel", "sage"},
	{"female", StyleSupportive}:   {"Bella", "shimmer"},
	{"female", ""}:                {"Rachel", "nova", "shimmer"},
	{"male", StyleMotivational}:   {"Josh", "echo", "verse"},
	{"male", StyleProfessional}:   {"Adam", "onyx"},
	{"male", StyleSupportive}:     {"Antoni", "ash", "ballad"},
	{"male", ""}:                  {"Adam", "onyx", "echo"},
	{"", StyleMotivational}:       {"nova", "Domi"},
	{"", StyleProfessional}:       {"Rachel", "alloy"},
	{"", StyleSupportive}:         {"Bella", "shimmer"},
}

// SelectVoice applies the selection policy to voices, which must be in the
// provider's enumeration order:
//
//  1. an explicit preference matches the first voice whose ID or name
//     contains it;
//  2. otherwise the candidate names for {gender, style} are tried in order,
//     falling back to the gender-only list;
//  3. otherwise the first voice speaking the language of locale wins.
//
// ok is false when nothing matches.
func SelectVoice(voices []tts.VoiceProfile, pref Preference, locale string, candidates map[CandidateKey][]string) (tts.VoiceProfile, bool) {
	if pref.VoiceName != "" {
		for _, v := range voices {
			if strings.Contains(v.ID, pref.VoiceName) || strings.Contains(v.Name, pref.VoiceName) {
				return v, true
			}
		}
	}

	style := pref.Style
	if style == StyleNeutral {
		style = ""
	}
	keys := []CandidateKey{{pref.Gender, style}}
	if style != "" && pref.Gender != "" {
		keys = append(keys, CandidateKey{pref.Gender, ""})
	}
	for _, k := range keys {
		for _, name := range candidates[k] {
			for _, v := range voices {
				if v.Name == name || v.ID == name {
					return v, true
				}
			}
		}
	}

	lang := tts.PrimaryLanguage(locale)
	for _, v := range voices {
		if lang == "" || v.Language() == lang {
			return v, true
		}
	}
	return tts.VoiceProfile{}, false
}
