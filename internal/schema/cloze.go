package schema

import (
	"regexp"
	"strings"
)

// BlankMarker replaces every blanked span of a cloze sentence.
const BlankMarker = "＿＿"

// Paragraph clozes should blank roughly 60-70% of a sentence; anything outside
// this band is kept but logged.
const (
	MinBlankRatio = 0.5
	MaxBlankRatio = 0.8
)

// Blank spellings models tend to produce instead of the marker.
var blankRegex = regexp.MustCompile(`[_＿]{2,}|（\s*）|\(\s*\)|\[\s*\]|【\s*】`)

// NormalizeBlanks rewrites any common blank spelling to BlankMarker.
func NormalizeBlanks(s string) string {
	return blankRegex.ReplaceAllString(strings.TrimSpace(s), BlankMarker)
}

// BlankFirst replaces exactly the first occurrence of word in sentence. It
// reports false when word does not occur.
func BlankFirst(sentence, word string) (string, bool) {
	if sentence == "" || word == "" {
		return "", false
	}
	i := strings.Index(sentence, word)
	if i < 0 {
		return "", false
	}
	return sentence[:i] + BlankMarker + sentence[i+len(word):], true
}

// BlankRatio reports the share of runes in cloze that are covered by blanks,
// measured against the full sentence.
func BlankRatio(sentence, cloze string) float64 {
	total := len([]rune(sentence))
	if total == 0 {
		return 0
	}
	kept := len([]rune(strings.ReplaceAll(cloze, BlankMarker, "")))
	if kept > total {
		return 0
	}
	return float64(total-kept) / float64(total)
}
