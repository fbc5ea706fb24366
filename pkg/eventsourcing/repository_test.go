package eventsourcing

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvent struct {
	Meta
	Timestamped
	Value string `json:"value"`
}

func (fakeEvent) AggregateType() string { return "fake" }

var fakeModel = &EventModel{
	Name:  "fake",
	Table: "fake_events",
	Types: NewRegistry(map[string]DecodeFunc{
		"FAKED": JSONDecoder[fakeEvent](),
	}),
}

type fakeAggregate struct {
	AggregateRoot
	applied []string
}

func (f *fakeAggregate) Model() *EventModel { return fakeModel }
func (f *fakeAggregate) ModelName() string  { return "Fake" }

func (f *fakeAggregate) ApplyEvent(ev Event) error {
	e, ok := ev.(*fakeEvent)
	if !ok {
		return fmt.Errorf("%w: fake cannot apply %s", ErrNotImplementedForKind, ev.Type())
	}
	f.AggregateRoot.ID = e.AggregateID()
	f.applied = append(f.applied, e.Value)
	return nil
}

func (f *fakeAggregate) Identity() Aggregate {
	return &fakeAggregate{AggregateRoot: IdentityRoot(f.ID, f.Version)}
}

func (f *fakeAggregate) InsertRow(ctx context.Context, tx *sql.Tx) error { return nil }
func (f *fakeAggregate) UpdateRow(ctx context.Context, tx *sql.Tx, fromVersion int) (int64, error) {
	return 1, nil
}

func newFakeEvent(id, value string) *fakeEvent {
	return &fakeEvent{
		Meta:        NewMeta("FAKED", id),
		Timestamped: Timestamped{OccurredAt: time.Unix(1000, 0).UTC()},
		Value:       value,
	}
}

func TestAddBuffersEachEventOnce(t *testing.T) {
	repo := NewRepository()
	ctx := WithRepository(context.Background(), repo)

	agg := &fakeAggregate{}
	require.NoError(t, Apply(ctx, agg, newFakeEvent("agg-1", "one")))
	require.NoError(t, Apply(ctx, agg, newFakeEvent("agg-1", "two")))

	assert.Len(t, repo.aggregates, 1)
	assert.Len(t, repo.newEvents[agg], 2)
	assert.Len(t, repo.appends[fakeModel], 2)

	names := make([]string, 0, 2)
	for _, ev := range repo.Notifications() {
		names = append(names, ev.(*fakeEvent).Value)
	}
	assert.Equal(t, []string{"one", "two"}, names)
}

func TestApplyWithoutUnitOfWorkFails(t *testing.T) {
	agg := &fakeAggregate{}
	err := Apply(context.Background(), agg, newFakeEvent("agg-1", "one"))
	assert.ErrorIs(t, err, ErrNoUnitOfWork)
}

func TestApplyOnViewSnapshotSkipsRepository(t *testing.T) {
	agg := &fakeAggregate{}
	agg.MarkViewOnly()

	// No repository in the context: view snapshots never register.
	require.NoError(t, Apply(context.Background(), agg, newFakeEvent("agg-1", "one")))
	assert.Len(t, agg.RecordedEvents(), 1)
}

func TestMarkEventEditedRegistersAggregateAndDeletion(t *testing.T) {
	repo := NewRepository()
	agg := &fakeAggregate{AggregateRoot: IdentityRoot("agg-1", 3)}

	stored := StoredEvent{ID: 42, AggregateID: "agg-1", Type: "FAKED"}
	repo.MarkEventEdited(agg, stored)

	assert.Len(t, repo.aggregates, 1)
	assert.Empty(t, repo.newEvents[agg])
	require.Len(t, repo.deletions[fakeModel], 1)
	assert.Equal(t, int64(42), repo.deletions[fakeModel][0].ID)
}

func TestAddDrainsRetractedEvents(t *testing.T) {
	repo := NewRepository()
	ctx := WithRepository(context.Background(), repo)

	agg := &fakeAggregate{AggregateRoot: IdentityRoot("agg-1", 1)}
	agg.Retract(StoredEvent{ID: 7, AggregateID: "agg-1"})

	require.NoError(t, Apply(ctx, agg, newFakeEvent("agg-1", "replacement")))

	require.Len(t, repo.deletions[fakeModel], 1)
	assert.Equal(t, int64(7), repo.deletions[fakeModel][0].ID)
	assert.Empty(t, agg.AggregateRoot.retracted, "retraction buffer must drain into the repository")
}

func TestClearResetsAllState(t *testing.T) {
	repo := NewRepository()
	ctx := WithRepository(context.Background(), repo)

	agg := &fakeAggregate{}
	require.NoError(t, Apply(ctx, agg, newFakeEvent("agg-1", "one")))
	repo.MarkEventEdited(agg, StoredEvent{ID: 9})

	repo.Clear()

	assert.Empty(t, repo.aggregates)
	assert.Empty(t, repo.newEvents)
	assert.Empty(t, repo.appends)
	assert.Empty(t, repo.deletions)
	assert.Empty(t, repo.Notifications())
}

func TestConfirmVersion(t *testing.T) {
	agg := &fakeAggregate{AggregateRoot: IdentityRoot("agg-1", 3)}

	require.NoError(t, agg.ConfirmVersion(3, "Fake"))

	err := agg.ConfirmVersion(2, "Fake")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfDateVersion)
	assert.Contains(t, err.Error(), "Fake")
}

func TestRegistryDecodeUnknownKind(t *testing.T) {
	_, err := fakeModel.Types.Decode("UNKNOWN", []byte(`{}`))
	assert.ErrorIs(t, err, ErrImproperlyConfigured)
}

func TestRegistryRoundTrip(t *testing.T) {
	stored := StoredEvent{
		Type: "FAKED",
		Data: []byte(`{"aggregate_id":"agg-1","event_type":"FAKED","event_version":1,"occurred_at":"2024-06-01T00:00:00Z","value":"hello"}`),
	}
	ev, err := stored.Decode(fakeModel)
	require.NoError(t, err)

	fake := ev.(*fakeEvent)
	assert.Equal(t, "agg-1", fake.AggregateID())
	assert.Equal(t, "hello", fake.Value)
	assert.Equal(t, 1, fake.EventVersion())
}
