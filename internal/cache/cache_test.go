package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/provider"
)

type fakeAdapter struct {
	calls   atomic.Int32
	records []endpoint.Record
	delay   time.Duration
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string                        { return "fake" }
func (f *fakeAdapter) Capabilities() provider.Features      { return provider.Features{} }
func (f *fakeAdapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.records, nil
}
func (f *fakeAdapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return endpoint.Record{}, nil
}
func (f *fakeAdapter) UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return endpoint.Record{}, nil
}
func (f *fakeAdapter) DeleteRecord(ctx context.Context, id string) error { return nil }

func TestRefreshFetchesOnceForEmptyCache(t *testing.T) {
	fa := &fakeAdapter{records: []endpoint.Record{{ID: "1", Name: "a.example.com", Type: "A"}}}
	c := New(fa, time.Hour)

	records, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(1), fa.calls.Load())
}

func TestRefreshSkipsWhenFresh(t *testing.T) {
	fa := &fakeAdapter{records: []endpoint.Record{{ID: "1"}}}
	c := New(fa, time.Hour)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), fa.calls.Load())
}

func TestRefreshForceAlwaysRefetches(t *testing.T) {
	fa := &fakeAdapter{records: []endpoint.Record{{ID: "1"}}}
	c := New(fa, time.Hour)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), fa.calls.Load())
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	fa := &fakeAdapter{records: []endpoint.Record{{ID: "1"}}, delay: 50 * time.Millisecond}
	c := New(fa, time.Hour)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Refresh(context.Background(), true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fa.calls.Load())
}

func TestWriteInsertReplaceRemove(t *testing.T) {
	c := New(&fakeAdapter{}, time.Hour)

	c.Write(WriteInsert, endpoint.Record{ID: "1", Name: "a.example.com", Type: "A"})
	assert.Len(t, c.Get(Filters{}), 1)

	c.Write(WriteReplace, endpoint.Record{ID: "1", Name: "a.example.com", Type: "A", Content: "203.0.113.1"})
	got := c.Get(Filters{})
	require.Len(t, got, 1)
	assert.Equal(t, "203.0.113.1", got[0].Content)

	c.Write(WriteRemove, endpoint.Record{ID: "1"})
	assert.Empty(t, c.Get(Filters{}))
}

func TestGetFiltersByTypeAndNameSubstring(t *testing.T) {
	c := New(&fakeAdapter{}, time.Hour)
	c.Write(WriteInsert, endpoint.Record{ID: "1", Name: "app.example.com", Type: "A"})
	c.Write(WriteInsert, endpoint.Record{ID: "2", Name: "mail.example.com", Type: "MX"})

	assert.Len(t, c.Get(Filters{Type: "A"}), 1)
	assert.Len(t, c.Get(Filters{NameSubstring: "mail"}), 1)
	assert.Empty(t, c.Get(Filters{Type: "TXT"}))
}

func TestWriteIsVisibleWithoutWaitingForRefresh(t *testing.T) {
	c := New(&fakeAdapter{}, time.Hour)
	c.Write(WriteInsert, endpoint.Record{ID: "1", Name: "app.example.com", Type: "A"})

	got := c.Get(Filters{})
	require.Len(t, got, 1)
	assert.Equal(t, "app.example.com", got[0].Name)
}
