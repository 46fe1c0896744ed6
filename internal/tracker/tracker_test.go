package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

func openTest(t *testing.T) *Tracker {
	t.Helper()
	tr, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func testFingerprint() endpoint.Fingerprint {
	return endpoint.Fingerprint{Provider: "cloudflare", Zone: "example.com", Type: "A", Name: "app.example.com", Content: "203.0.113.1"}
}

func TestTrackThenIsTracked(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp := testFingerprint()

	tracked, err := tr.IsTracked(ctx, fp)
	require.NoError(t, err)
	assert.False(t, tracked)

	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))

	tracked, err = tr.IsTracked(ctx, fp)
	require.NoError(t, err)
	assert.True(t, tracked)
}

func TestUntrackRemovesRow(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp := testFingerprint()

	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))
	require.NoError(t, tr.Untrack(ctx, fp))

	tracked, err := tr.IsTracked(ctx, fp)
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestMarkOrphanIsMonotonicWithinSilenceWindow(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp := testFingerprint()
	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))

	t0 := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, tr.MarkOrphan(ctx, fp, t0))

	since, err := tr.GetOrphanedSince(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, since)
	assert.WithinDuration(t, t0, *since, time.Second)

	t1 := t0.Add(time.Minute)
	require.NoError(t, tr.MarkOrphan(ctx, fp, t1))

	since2, err := tr.GetOrphanedSince(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, since2)
	assert.Equal(t, since.UTC().Truncate(time.Second), since2.UTC().Truncate(time.Second))
}

func TestClearOrphanResetsState(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp := testFingerprint()
	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))
	require.NoError(t, tr.MarkOrphan(ctx, fp, time.Now()))

	require.NoError(t, tr.ClearOrphan(ctx, fp))

	orphaned, err := tr.IsOrphaned(ctx, fp)
	require.NoError(t, err)
	assert.False(t, orphaned)

	since, err := tr.GetOrphanedSince(ctx, fp)
	require.NoError(t, err)
	assert.Nil(t, since)
}

func TestTrackClearsOrphanOnRedemand(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp := testFingerprint()
	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))
	require.NoError(t, tr.MarkOrphan(ctx, fp, time.Now()))

	require.NoError(t, tr.Track(ctx, fp, endpoint.SourceContainer))

	orphaned, err := tr.IsOrphaned(ctx, fp)
	require.NoError(t, err)
	assert.False(t, orphaned)
}

func TestPreservationListPersistsAndMatches(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)

	require.NoError(t, tr.AddPreserved(ctx, "legacy.example.com"))
	require.NoError(t, tr.AddPreserved(ctx, "*.static.example.com"))

	assert.True(t, tr.MatchesPreserved("legacy.example.com"))
	assert.True(t, tr.MatchesPreserved("LEGACY.EXAMPLE.COM"))
	assert.True(t, tr.MatchesPreserved("a.static.example.com"))
	assert.False(t, tr.MatchesPreserved("static.example.com"))
	assert.False(t, tr.MatchesPreserved("other.example.com"))

	require.NoError(t, tr.RemovePreserved(ctx, "legacy.example.com"))
	assert.False(t, tr.MatchesPreserved("legacy.example.com"))
}

func TestPreservationListHydratesFromStorage(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/tracker.db"

	tr, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, tr.AddPreserved(ctx, "keep.example.com"))
	require.NoError(t, tr.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []string{"keep.example.com"}, reopened.ListPreserved())
}

func TestRecordDeletionHistory(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	assert.NoError(t, tr.RecordDeletion(ctx, "A", "old.example.com", "orphan grace elapsed"))
}

func TestListOrphanedReturnsOnlyOrphanedEntries(t *testing.T) {
	ctx := context.Background()
	tr := openTest(t)
	fp1 := testFingerprint()
	fp2 := endpoint.Fingerprint{Provider: "cloudflare", Zone: "example.com", Type: "A", Name: "other.example.com", Content: "203.0.113.2"}

	require.NoError(t, tr.Track(ctx, fp1, endpoint.SourceContainer))
	require.NoError(t, tr.Track(ctx, fp2, endpoint.SourceContainer))
	require.NoError(t, tr.MarkOrphan(ctx, fp1, time.Now()))

	entries, err := tr.ListOrphaned(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fp1.Name, entries[0].Fingerprint.Name)
}
