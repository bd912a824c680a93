package completion

import (
	"fmt"
	"strings"
)

var sentenceStops = []string{".", "!", "?"}

// StopSequences picks the stop policy of a call. Explicit stops win;
// otherwise continuations stop at sentence punctuation, single units at the
// end of the line, and lists at their structural markers.
func StopSequences(s Settings, continuing bool) []string {
	if len(s.StopSequences) > 0 {
		return NormalizeStops(s.StopSequences)
	}
	switch {
	case continuing:
		return append([]string(nil), sentenceStops...)
	case s.NumUnits == 1:
		return []string{"\n"}
	case s.IsList():
		return []string{"\n\n", fmt.Sprintf("\n%d.", s.NumUnits+1)}
	default:
		return []string{"\n"}
	}
}

// NormalizeStops turns literal "\n" escapes into newlines and drops empty
// entries.
func NormalizeStops(stops []string) []string {
	out := make([]string, 0, len(stops))
	for _, stop := range stops {
		stop = strings.ReplaceAll(stop, `\n`, "\n")
		if stop == "" {
			continue
		}
		out = append(out, stop)
	}
	return out
}

// MaxTokens is the token budget of a call.
func MaxTokens(s Settings, continuing bool, b Budget) int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	if continuing {
		return b.ContinuationMaxTokens
	}
	perUnit := b.ParagraphTokensPerUnit
	if s.IsList() {
		perUnit = b.ListTokensPerUnit
	}
	return s.NumUnits * perUnit
}

// Budget holds the token sizing knobs.
type Budget struct {
	ParagraphTokensPerUnit int
	ListTokensPerUnit      int
	ContinuationMaxTokens  int
}

// endsSentence reports whether text already ends with sentence punctuation.
func endsSentence(text string) bool {
	text = strings.TrimRight(text, " \t\n\"'")
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")
}
