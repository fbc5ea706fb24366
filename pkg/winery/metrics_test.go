package winery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"

	"github.com/vinoma/cellar/pkg/observability"
	"github.com/vinoma/cellar/pkg/store/sqlite"
	"github.com/vinoma/cellar/pkg/winery"
)

type countingInstrument struct {
	embedded.Int64Counter
	n int64
}

func (c *countingInstrument) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.n += incr
}

func TestUnitOfWorkRecordsRetractionMetric(t *testing.T) {
	now := freeze(t)
	appended := &countingInstrument{}
	retracted := &countingInstrument{}

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cellar := winery.New(store, nil, &observability.Metrics{
		EventsAppended:  appended,
		EventsRetracted: retracted,
	})
	ctx := context.Background()

	lot := createLot(t, cellar, "LOT-A", 2022)
	action, err := cellar.RecordReceiveVolume(ctx, lot.ID, dec("5.00"), nil)
	require.NoError(t, err)

	// Creation appended one event, the receipt two; nothing retracted yet.
	assert.Equal(t, int64(3), appended.n)
	assert.Zero(t, retracted.n)

	*now = base.Add(time.Hour)
	_, err = cellar.EditReceiveVolume(ctx, action.ID, lot.ID, dec("7.00"))
	require.NoError(t, err)

	// The edit deleted the superseded receipt event.
	assert.Equal(t, int64(1), retracted.n)
}
