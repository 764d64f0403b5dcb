package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "early") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"early"}, order)

	c.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Zero(t, c.Pending())
}

func TestFakeCallbackCanScheduleWithinSameAdvance(t *testing.T) {
	c := Fake(epoch)
	var fired []time.Time
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(2*time.Second, func() { fired = append(fired, c.Now()) })
	})

	c.Advance(5 * time.Second)
	require.Len(t, fired, 1)
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	select {
	case <-ticker.C:
		t.Fatal("tick before advance")
	default:
	}

	c.Advance(10 * time.Second)
	select {
	case got := <-ticker.C:
		assert.Equal(t, epoch.Add(10*time.Second), got)
	default:
		t.Fatal("expected tick")
	}
}
