package digitalocean

import (
	"testing"

	"github.com/digitalocean/godo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{APIToken: "do-test-token", Domain: "example.com"})
	require.NoError(t, err)
	return a
}

func TestNewRequiresTokenAndDomain(t *testing.T) {
	_, err := New(Config{Domain: "example.com"})
	assert.Error(t, err)

	_, err = New(Config{APIToken: "x"})
	assert.Error(t, err)
}

func TestRelativeAndAbsoluteName(t *testing.T) {
	a := testAdapter(t)

	assert.Equal(t, "app", a.relativeName("app.example.com"))
	assert.Equal(t, "@", a.relativeName("example.com"))
	assert.Equal(t, "app.example.com", a.absoluteName("app"))
	assert.Equal(t, "example.com", a.absoluteName("@"))
}

func TestToRecordMapsFields(t *testing.T) {
	a := testAdapter(t)

	rec := a.toRecord(godo.DomainRecord{
		ID:       42,
		Type:     "mx",
		Name:     "@",
		Data:     "mail.example.com",
		TTL:      300,
		Priority: 10,
	})

	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, "MX", rec.Type)
	assert.Equal(t, "example.com", rec.Name)
	assert.Equal(t, uint16(10), rec.Priority)
}

func TestCapabilitiesReflectDigitalOceanLimits(t *testing.T) {
	a := testAdapter(t)
	caps := a.Capabilities()

	assert.False(t, caps.SupportsProxied)
	assert.Equal(t, endpoint.TTL(30), caps.TTLFloor)
	assert.False(t, caps.SupportsBatch)
	assert.True(t, caps.Types.Supports(endpoint.RecordTypeMX))
	assert.True(t, caps.Types.Supports(endpoint.RecordTypeCAA))
}

func TestToCreateRequestRequiresContent(t *testing.T) {
	a := testAdapter(t)
	_, err := a.toCreateRequest(endpoint.DesiredSpec{Type: endpoint.RecordTypeA, Hostname: "app.example.com"})
	assert.Error(t, err)
}

func TestRedactScrubsToken(t *testing.T) {
	err := redact("secret-token", assertErrorf("request failed: token secret-token rejected"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.Contains(t, err.Error(), "[REDACTED]")
}

func assertErrorf(msg string) error { return &simpleError{msg} }

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
