package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherDeliversToAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var seen []string

	d.Subscribe(EventSessionFailed, func(_ context.Context, e Event) error {
		seen = append(seen, "first:"+e.SubjectID)
		return errors.New("boom")
	})
	d.Subscribe(EventSessionFailed, func(_ context.Context, e Event) error {
		seen = append(seen, "second:"+e.SubjectID)
		return nil
	})
	d.Subscribe(EventSessionSucceeded, func(_ context.Context, e Event) error {
		seen = append(seen, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventSessionFailed, SubjectID: "emp-1"})

	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"first:emp-1", "second:emp-1"}, seen)
}
