package gateway

import "strings"

// DeltaTracker recomputes an incremental suffix from the gateway's
// cumulative chat text (spec.md §4.2, §9). The gateway delivers the
// full message content so far on every delta/final event; a consumer
// MUST NOT forward that raw text as a delta without this prefix-slice
// computation.
type DeltaTracker struct {
	seenText string
}

// Advance accepts the new cumulative text and returns the increment
// to emit. If newText does not extend seenText (the producer
// re-issued the text, rare), the tracker replaces its baseline and
// emits only the new suffix length rather than the whole string again.
func (t *DeltaTracker) Advance(newText string) string {
	if strings.HasPrefix(newText, t.seenText) {
		suffix := newText[len(t.seenText):]
		t.seenText = newText
		return suffix
	}

	// Non-prefix recovery: treat as a replacement, only emit the tail
	// beyond what we'd already reported.
	var suffix string
	if len(newText) > len(t.seenText) {
		suffix = newText[len(t.seenText):]
	}
	t.seenText = newText
	return suffix
}

func (t *DeltaTracker) Text() string { return t.seenText }
