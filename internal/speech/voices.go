package speech

import (
	"strings"

	"github.com/vocalize-voice-lab/internal/config"
)

func matchesLang(v Voice, prefix string) bool {
	return prefix == "" || strings.HasPrefix(strings.ToLower(v.Lang), strings.ToLower(prefix))
}

func hasMarker(v Voice, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(strings.ToLower(v.Name), strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// FilterVoices narrows voices to the filter's language whose name carries a
// marker. Without marker matches it falls back to the language only, and
// without language matches to every voice.
func FilterVoices(voices []Voice, f config.VoiceFilter) []Voice {
	var lang, marked []Voice
	for _, v := range voices {
		if !matchesLang(v, f.LangPrefix) {
			continue
		}
		lang = append(lang, v)
		if hasMarker(v, f.NameContains) {
			marked = append(marked, v)
		}
	}
	switch {
	case len(marked) > 0:
		return marked
	case len(lang) > 0:
		return lang
	}
	return voices
}

// SelectVoice picks the user's voice when installed, else the first
// filtered voice, else the first voice. ok is false when there are none.
func SelectVoice(voices []Voice, f config.VoiceFilter, selected string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	if selected != "" {
		for _, v := range voices {
			if strings.EqualFold(v.Name, selected) {
				return v, true
			}
		}
	}
	if filtered := FilterVoices(voices, f); len(filtered) > 0 {
		return filtered[0], true
	}
	return voices[0], true
}
