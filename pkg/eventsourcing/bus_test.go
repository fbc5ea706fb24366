package eventsourcing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	sink *[]string
	name string
}

func (s *recordingSubscriber) Handle(ev Event) error {
	*s.sink = append(*s.sink, s.name+":"+EventName(ev))
	return nil
}

type failingSubscriber struct{}

func (failingSubscriber) Handle(ev Event) error {
	return fmt.Errorf("subscriber exploded")
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "fake.FAKED", EventName(newFakeEvent("agg-1", "x")))
}

func TestBootUnknownSubscriber(t *testing.T) {
	bus := NewNotificationBus(nil)
	err := bus.Boot(map[string][]string{"fake.FAKED": {"missing"}})
	assert.ErrorIs(t, err, ErrImproperlyConfigured)
}

func TestBootIsIdempotent(t *testing.T) {
	var got []string
	bus := NewNotificationBus(nil)
	bus.RegisterSubscriber("recorder", func() Subscriber {
		return &recordingSubscriber{sink: &got, name: "recorder"}
	})

	require.NoError(t, bus.Boot(map[string][]string{"fake.FAKED": {"recorder"}}))
	// Second boot must not double-register.
	require.NoError(t, bus.Boot(map[string][]string{"fake.FAKED": {"recorder"}}))

	require.NoError(t, bus.Dispatch(newFakeEvent("agg-1", "x")))
	assert.Equal(t, []string{"recorder:fake.FAKED"}, got)
}

func TestBootRetryAfterFailureDoesNotDuplicateRoutes(t *testing.T) {
	var got []string
	bus := NewNotificationBus(nil)
	bus.RegisterSubscriber("recorder", func() Subscriber {
		return &recordingSubscriber{sink: &got, name: "recorder"}
	})

	err := bus.Boot(map[string][]string{"fake.FAKED": {"recorder", "missing"}})
	require.ErrorIs(t, err, ErrImproperlyConfigured)

	// The corrected retry must not keep routes staged by the failed boot.
	require.NoError(t, bus.Boot(map[string][]string{"fake.FAKED": {"recorder"}}))

	require.NoError(t, bus.Dispatch(newFakeEvent("agg-1", "x")))
	assert.Equal(t, []string{"recorder:fake.FAKED"}, got)
}

func TestDispatchAllPreservesOrderAndStopsOnError(t *testing.T) {
	var got []string
	bus := NewNotificationBus(nil)
	bus.RegisterSubscriber("recorder", func() Subscriber {
		return &recordingSubscriber{sink: &got, name: "recorder"}
	})
	bus.RegisterSubscriber("bomb", func() Subscriber { return failingSubscriber{} })

	require.NoError(t, bus.Boot(map[string][]string{"fake.FAKED": {"recorder", "bomb"}}))

	events := []Event{newFakeEvent("agg-1", "x"), newFakeEvent("agg-2", "y")}
	err := bus.DispatchAll(events)
	require.Error(t, err)

	// The recorder ran for the first event; the failure aborted the rest.
	assert.Equal(t, []string{"recorder:fake.FAKED"}, got)
}

func TestDispatchWithoutSubscribersIsNoOp(t *testing.T) {
	bus := NewNotificationBus(nil)
	require.NoError(t, bus.Boot(nil))
	assert.NoError(t, bus.Dispatch(newFakeEvent("agg-1", "x")))
}
