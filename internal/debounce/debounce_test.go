package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldSuppress_WithinWindow(t *testing.T) {
	d := New(2 * time.Second)
	base := time.Now()

	assert.False(t, d.ShouldSuppress("/in/data.csv", base))
	assert.True(t, d.ShouldSuppress("/in/data.csv", base.Add(500*time.Millisecond)))
	assert.True(t, d.ShouldSuppress("/in/data.csv", base.Add(1999*time.Millisecond)))
}

func TestShouldSuppress_OutsideWindow(t *testing.T) {
	d := New(2 * time.Second)
	base := time.Now()

	assert.False(t, d.ShouldSuppress("/in/data.csv", base))
	assert.False(t, d.ShouldSuppress("/in/data.csv", base.Add(2*time.Second)))
}

func TestShouldSuppress_DoesNotRefreshTimestamp(t *testing.T) {
	d := New(2 * time.Second)
	base := time.Now()

	assert.False(t, d.ShouldSuppress("/in/data.csv", base))
	// Suppressed events must not extend the window: a steady stream of
	// events may not starve the path forever.
	assert.True(t, d.ShouldSuppress("/in/data.csv", base.Add(1500*time.Millisecond)))
	assert.False(t, d.ShouldSuppress("/in/data.csv", base.Add(2100*time.Millisecond)))
}

func TestShouldSuppress_IndependentPaths(t *testing.T) {
	d := New(2 * time.Second)
	base := time.Now()

	assert.False(t, d.ShouldSuppress("/in/a.csv", base))
	assert.False(t, d.ShouldSuppress("/in/b.csv", base.Add(time.Millisecond)))
	assert.Equal(t, 2, d.Len())
}

func TestNew_NonPositiveWindowFallsBack(t *testing.T) {
	d := New(0)
	assert.Equal(t, DefaultWindow, d.window)
}
