package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	c := NewMonotonic()
	prev := c.Now()
	for i := 0; i < 100; i++ {
		now := c.Now()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestManual(t *testing.T) {
	c := NewManual(time.Second)
	assert.Equal(t, time.Second, c.Now())

	assert.Equal(t, 1500*time.Millisecond, c.Advance(500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, c.Now())

	c.Set(10 * time.Second)
	assert.Equal(t, 10*time.Second, c.Now())
}
