package study

import (
	"regexp"
	"strings"
)

// sentenceRe matches runs of text up to a terminal punctuation mark that is
// followed by whitespace or end of input.
var sentenceRe = regexp.MustCompile(`(?s).+?[.!?](\s|$)`)

var trailingDots = regexp.MustCompile(`\.+$`)
var repeatedTerminal = regexp.MustCompile(`([!?])[!?.]*$`)

// SegmentSentences splits generated text on punctuation boundaries so the
// presentation layer can reveal replies progressively. It is not a semantic
// parse: list-like or ungrammatical text comes back as best-effort chunks,
// and text with no terminal punctuation is returned whole.
func SegmentSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	matches := sentenceRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	consumed := 0
	out := make([]string, 0, len(matches)+1)
	for _, m := range matches {
		consumed += len(m)
		if s := cleanSentence(m); s != "" {
			out = append(out, s)
		}
	}
	// Text after the last terminal mark is kept as a final chunk.
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// cleanSentence strips surrounding space and collapses trailing repeated
// terminal punctuation: trailing periods are dropped entirely, "!" and "?"
// are kept but reduced to a single mark.
func cleanSentence(s string) string {
	s = strings.TrimSpace(s)
	if loc := repeatedTerminal.FindStringSubmatchIndex(s); loc != nil {
		s = s[:loc[2]] + s[loc[2]:loc[3]]
	} else {
		s = trailingDots.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// JoinSentences rejoins a bot turn's sentence list into one string for
// prompt history and transcript rows.
func JoinSentences(sentences []string) string {
	return strings.Join(sentences, ". ")
}
