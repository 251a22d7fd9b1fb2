package transcription

import (
	"regexp"
	"strings"
)

const soundMarkers = `music|music playing|applause|laughter|laughs|laughing|chuckles|` +
	`cough|coughs|coughing|sigh|sighs|sighing|sniff|sniffs|breathing|` +
	`pause|silence|noise|background noise|static|inaudible|indistinct|` +
	`unintelligible|crosstalk|blank_audio|beep|clears throat`

var (
	// [BLANK_AUDIO], [silence], (music), (inaudible), *laughs*. Parentheses
	// only count when they hold a known sound marker so real asides survive.
	annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\*[^*]*\*|(?i:\(\s*(?:` + soundMarkers + `)\s*\))`)
	musicPattern      = regexp.MustCompile(`[♪♫♬♩]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	danglingPunct     = regexp.MustCompile(`\s+([,.!?;:])`)
	fillerOnlyPattern = regexp.MustCompile(`^[\s\p{P}]*$`)
)

// Normalize strips non-speech annotations from raw backend output, collapses
// whitespace and trims. Input that held nothing but annotations or punctuation
// yields "".
func Normalize(raw string) string {
	text := annotationPattern.ReplaceAllString(raw, " ")
	text = musicPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = danglingPunct.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)

	if fillerOnlyPattern.MatchString(text) {
		return ""
	}
	return text
}
