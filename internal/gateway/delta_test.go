package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeltaTracker_CumulativeSuffixes(t *testing.T) {
	var tr DeltaTracker

	assert.Equal(t, "He", tr.Advance("He"))
	assert.Equal(t, "llo", tr.Advance("Hello"))
	assert.Equal(t, " world", tr.Advance("Hello world"))
	assert.Equal(t, "Hello world", tr.Text())
}

func TestDeltaTracker_NonPrefixRecovery(t *testing.T) {
	var tr DeltaTracker

	assert.Equal(t, "Draft one", tr.Advance("Draft one"))
	// Producer re-issued entirely different text instead of extending.
	assert.Equal(t, "", tr.Advance("Draft"))
	assert.Equal(t, "Draft", tr.Text())
}
