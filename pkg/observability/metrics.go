// Package observability holds the metric instruments for the cellar.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the unit of work and the event
// store. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsAppended          metric.Int64Counter
	EventsRetracted         metric.Int64Counter
	UnitOfWorkCommits       metric.Int64Counter
	UnitOfWorkRollbacks     metric.Int64Counter
	NotificationsDispatched metric.Int64Counter
}

// NewMetrics creates all instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsAppended, err = meter.Int64Counter(
		"cellar.events.appended",
		metric.WithDescription("Total events appended to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.EventsRetracted, err = meter.Int64Counter(
		"cellar.events.retracted",
		metric.WithDescription("Total events deleted as part of an edit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.retracted: %w", err)
	}

	m.UnitOfWorkCommits, err = meter.Int64Counter(
		"cellar.uow.commits",
		metric.WithDescription("Total units of work committed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating uow.commits: %w", err)
	}

	m.UnitOfWorkRollbacks, err = meter.Int64Counter(
		"cellar.uow.rollbacks",
		metric.WithDescription("Total units of work rolled back"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating uow.rollbacks: %w", err)
	}

	m.NotificationsDispatched, err = meter.Int64Counter(
		"cellar.notifications.dispatched",
		metric.WithDescription("Total notifications dispatched after commit"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notifications.dispatched: %w", err)
	}

	return m, nil
}

// Default builds metrics on the globally registered meter provider.
func Default() (*Metrics, error) {
	return NewMetrics(otel.Meter("github.com/vinoma/cellar"))
}
