package script

import (
	"strings"
	"unicode/utf8"
)

const (
	msPerChar         = 80
	minNarrationMS    = 1000
	defaultCuePrefix  = "SFX_"
	defaultSceneTotal = 5000
)

// EstimateNarrationMs predicts how long a narration line takes to
// speak, at 80ms per character with a one second floor. Derived
// duration defaults use it until real audio has been synthesized.
func EstimateNarrationMs(line string) int {
	ms := utf8.RuneCountInString(line) * msPerChar
	if ms < minNarrationMS {
		return minNarrationMS
	}
	return ms
}

// CanonicalCueName rewrites a sound cue name into library form:
// upper-cased, separators collapsed to underscores, SFX_ prefix
// guaranteed. "whoosh sound" becomes "SFX_WHOOSH_SOUND".
func CanonicalCueName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + len(defaultCuePrefix))
	lastUnderscore := true
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return defaultCuePrefix + "GENERIC"
	}
	if !strings.HasPrefix(out, defaultCuePrefix) {
		out = defaultCuePrefix + out
	}
	return out
}
