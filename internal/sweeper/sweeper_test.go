package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/cache"
	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/events"
	"github.com/netgrove/dns-reconciler/internal/provider"
	"github.com/netgrove/dns-reconciler/internal/tracker"
)

type fakeAdapter struct {
	records []endpoint.Record
	deletes []string
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string                   { return "fake" }
func (f *fakeAdapter) Capabilities() provider.Features { return provider.Features{} }
func (f *fakeAdapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	return f.records, nil
}
func (f *fakeAdapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return endpoint.Record{}, nil
}
func (f *fakeAdapter) UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return endpoint.Record{}, nil
}
func (f *fakeAdapter) DeleteRecord(ctx context.Context, id string) error {
	f.deletes = append(f.deletes, id)
	out := f.records[:0]
	for _, r := range f.records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	f.records = out
	return nil
}

func newHarness(t *testing.T, adapter *fakeAdapter, cfg Config) (*Sweeper, *cache.Cache, *tracker.Tracker) {
	t.Helper()
	c := cache.New(adapter, time.Hour)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	tr, err := tracker.Open(context.Background(), t.TempDir()+"/tracker.db")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	bus := events.NewBus(16)
	return New(adapter, c, tr, bus, cfg), c, tr
}

func fp(name string) endpoint.Fingerprint {
	return endpoint.Fingerprint{Provider: "fake", Type: endpoint.RecordTypeA, Name: name, Content: "203.0.113.5"}
}

func TestSweepFirstSightingOnlyMarksOrphan(t *testing.T) {
	adapter := &fakeAdapter{records: []endpoint.Record{{ID: "id-1", Type: endpoint.RecordTypeA, Name: "gone.example.com", Content: "203.0.113.5"}}}
	s, _, tr := newHarness(t, adapter, Config{CleanupOrphaned: true, GracePeriod: time.Minute})

	f := fp("gone.example.com")
	summary := s.Sweep(context.Background(), []endpoint.Fingerprint{f})

	assert.Equal(t, 1, summary.FirstSighting)
	assert.Equal(t, 0, summary.Deleted)
	orphaned, err := tr.IsOrphaned(context.Background(), f)
	require.NoError(t, err)
	assert.True(t, orphaned)
	assert.Empty(t, adapter.deletes)
}

func TestSweepDoesNotDeleteBeforeGracePeriodElapses(t *testing.T) {
	adapter := &fakeAdapter{records: []endpoint.Record{{ID: "id-1", Type: endpoint.RecordTypeA, Name: "gone.example.com", Content: "203.0.113.5"}}}
	s, _, tr := newHarness(t, adapter, Config{CleanupOrphaned: true, GracePeriod: time.Hour})

	f := fp("gone.example.com")
	require.NoError(t, tr.MarkOrphan(context.Background(), f, time.Now()))

	summary := s.Sweep(context.Background(), []endpoint.Fingerprint{f})
	assert.Equal(t, 1, summary.StillWaiting)
	assert.Equal(t, 0, summary.Deleted)
}

func TestSweepDeletesAfterGracePeriodWhenCleanupEnabled(t *testing.T) {
	adapter := &fakeAdapter{records: []endpoint.Record{{ID: "id-1", Type: endpoint.RecordTypeA, Name: "gone.example.com", Content: "203.0.113.5"}}}
	s, _, tr := newHarness(t, adapter, Config{CleanupOrphaned: true, GracePeriod: time.Minute})

	f := fp("gone.example.com")
	require.NoError(t, tr.MarkOrphan(context.Background(), f, time.Now().Add(-2*time.Minute)))

	summary := s.Sweep(context.Background(), []endpoint.Fingerprint{f})
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, []string{"id-1"}, adapter.deletes)

	tracked, err := tr.IsTracked(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestSweepNeverDeletesWhenCleanupOrphanedDisabled(t *testing.T) {
	adapter := &fakeAdapter{records: []endpoint.Record{{ID: "id-1", Type: endpoint.RecordTypeA, Name: "gone.example.com", Content: "203.0.113.5"}}}
	s, _, tr := newHarness(t, adapter, Config{CleanupOrphaned: false, GracePeriod: time.Minute})

	f := fp("gone.example.com")
	require.NoError(t, tr.MarkOrphan(context.Background(), f, time.Now().Add(-time.Hour)))

	summary := s.Sweep(context.Background(), []endpoint.Fingerprint{f})
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, summary.StillWaiting)
	assert.Empty(t, adapter.deletes)
}

func TestSweepDemotesPreservedHostnameWithoutDeleting(t *testing.T) {
	adapter := &fakeAdapter{records: []endpoint.Record{{ID: "id-1", Type: endpoint.RecordTypeA, Name: "keep.example.com", Content: "203.0.113.5"}}}
	s, _, tr := newHarness(t, adapter, Config{CleanupOrphaned: true, GracePeriod: time.Minute})
	require.NoError(t, tr.AddPreserved(context.Background(), "keep.example.com"))

	f := fp("keep.example.com")
	require.NoError(t, tr.Track(context.Background(), f, endpoint.SourceContainer))

	summary := s.Sweep(context.Background(), []endpoint.Fingerprint{f})
	assert.Equal(t, 1, summary.Preserved)
	assert.Empty(t, adapter.deletes)

	tracked, err := tr.IsTracked(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, tracked)
}
