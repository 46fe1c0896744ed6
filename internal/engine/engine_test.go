package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/cache"
	"github.com/netgrove/dns-reconciler/internal/config"
	"github.com/netgrove/dns-reconciler/internal/endpoint"
	"github.com/netgrove/dns-reconciler/internal/events"
	"github.com/netgrove/dns-reconciler/internal/metrics"
	"github.com/netgrove/dns-reconciler/internal/provider"
	"github.com/netgrove/dns-reconciler/internal/reconciler"
	"github.com/netgrove/dns-reconciler/internal/source"
	"github.com/netgrove/dns-reconciler/internal/sweeper"
	"github.com/netgrove/dns-reconciler/internal/tracker"
)

func TestBuildProviderRejectsUnrecognizedName(t *testing.T) {
	cfg := &config.Config{DNSProvider: "bogus"}
	_, err := buildProvider(context.Background(), cfg)
	assert.Error(t, err)
}

type stubExtractor struct {
	name  string
	specs []endpoint.DesiredSpec
}

func (s stubExtractor) Name() string { return s.name }
func (s stubExtractor) Extract(ctx context.Context) ([]endpoint.DesiredSpec, error) {
	return s.specs, nil
}

func TestUnionExtractorMergesInOrder(t *testing.T) {
	ue := unionExtractor{extractors: []source.Extractor{
		stubExtractor{name: "router", specs: []endpoint.DesiredSpec{
			{Hostname: "app.example.com", Type: endpoint.RecordTypeA, TTL: 60},
		}},
		stubExtractor{name: "container", specs: []endpoint.DesiredSpec{
			{Hostname: "app.example.com", Type: endpoint.RecordTypeA, TTL: 300},
		}},
	}}

	specs, err := ue.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, endpoint.TTL(300), specs[0].TTL, "container-label extractor runs after router, so it should win the conflicting TTL")
}

type fakeAdapter struct {
	records []endpoint.Record
}

var _ provider.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string                   { return "fake" }
func (f *fakeAdapter) Capabilities() provider.Features { return provider.Features{} }
func (f *fakeAdapter) ListZoneRecords(ctx context.Context) ([]endpoint.Record, error) {
	return f.records, nil
}
func (f *fakeAdapter) CreateRecord(ctx context.Context, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	content := ""
	if spec.Content != nil {
		content = *spec.Content
	}
	rec := endpoint.Record{ID: "id-1", Type: spec.Type, Name: spec.Hostname, Content: content}
	f.records = append(f.records, rec)
	return rec, nil
}
func (f *fakeAdapter) UpdateRecord(ctx context.Context, id string, spec endpoint.DesiredSpec) (endpoint.Record, error) {
	return endpoint.Record{}, nil
}
func (f *fakeAdapter) DeleteRecord(ctx context.Context, id string) error { return nil }

func strPtr(s string) *string { return &s }

// TestRunPassEndToEndWithoutScheduler exercises the same collaborators
// Engine.runPass wires together, without going through New (which would
// need real provider credentials and a Docker daemon).
func TestRunPassEndToEndWithoutScheduler(t *testing.T) {
	adapter := &fakeAdapter{}
	c := cache.New(adapter, 0)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	tr, err := tracker.Open(context.Background(), t.TempDir()+"/tracker.db")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	bus := events.NewBus(16)
	recon := reconciler.New(adapter, c, tr, bus, reconciler.Config{})
	sw := sweeper.New(adapter, c, tr, bus, sweeper.Config{})

	e := &Engine{
		adapter: adapter,
		cache:   c,
		tracker: tr,
		bus:     bus,
		metrics: metrics.New(prometheus.NewRegistry()),
		recon:   recon,
		sweep:   sw,
		extractor: unionExtractor{extractors: []source.Extractor{
			stubExtractor{name: "test", specs: []endpoint.DesiredSpec{
				{Hostname: "app.example.com", Type: endpoint.RecordTypeA, Content: strPtr("203.0.113.5"), Source: endpoint.SourceContainer, Managed: true},
			}},
		}},
	}

	e.runPass(context.Background())

	cached := c.Get(cache.Filters{})
	require.Len(t, cached, 1)
	assert.Equal(t, "app.example.com", cached[0].Name)
}

// TestRunPassForwardsDroppedEventsToMetrics exercises the same wiring as
// TestRunPassEndToEndWithoutScheduler, but with a subscriber buffer small
// enough that a pass's events overflow it, to confirm runPass forwards the
// bus's live drop count into the events-dropped gauge rather than leaving
// it permanently at zero.
func TestRunPassForwardsDroppedEventsToMetrics(t *testing.T) {
	adapter := &fakeAdapter{}
	c := cache.New(adapter, 0)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	tr, err := tracker.Open(context.Background(), t.TempDir()+"/tracker.db")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	bus := events.NewBus(1)
	_, _ = bus.Subscribe() // never drained, so its buffer overflows immediately

	recon := reconciler.New(adapter, c, tr, bus, reconciler.Config{})
	sw := sweeper.New(adapter, c, tr, bus, sweeper.Config{})
	m := metrics.New(prometheus.NewRegistry())

	e := &Engine{
		adapter: adapter,
		cache:   c,
		tracker: tr,
		bus:     bus,
		metrics: m,
		recon:   recon,
		sweep:   sw,
		extractor: unionExtractor{extractors: []source.Extractor{
			stubExtractor{name: "test", specs: []endpoint.DesiredSpec{
				{Hostname: "app.example.com", Type: endpoint.RecordTypeA, Content: strPtr("203.0.113.5"), Source: endpoint.SourceContainer, Managed: true},
			}},
		}},
	}

	e.runPass(context.Background())

	require.Greater(t, bus.Dropped.Value(), uint64(0), "test setup should have produced at least one dropped event")
	assert.Equal(t, float64(bus.Dropped.Value()), testutil.ToFloat64(m.EventsDropped))
}
