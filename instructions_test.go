package chronovoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildInstruction(t *testing.T) {
	now := time.Date(1969, time.July, 20, 20, 17, 40, 0, time.UTC)
	got := BuildInstruction(now)

	assert.Contains(t, got, "Chronos")
	assert.Contains(t, got, "Current session date: Sunday, July 20, 1969.")
	assert.Contains(t, got, "Current session time: 8:17:40 PM.")
	assert.Contains(t, got, `"Greetings. The time is 8:17 PM."`)
	assert.Contains(t, got, "on this day (July 20) in history")
}

func TestBuildInstructionMorning(t *testing.T) {
	now := time.Date(2024, time.February, 29, 0, 5, 9, 0, time.UTC)
	got := BuildInstruction(now)

	assert.Contains(t, got, "Thursday, February 29, 2024")
	assert.Contains(t, got, "12:05:09 AM")
	assert.Contains(t, got, "(February 29)")
}
