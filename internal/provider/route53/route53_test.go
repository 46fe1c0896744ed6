package route53

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netgrove/dns-reconciler/internal/endpoint"
)

func testAdapter() *Adapter {
	return &Adapter{cfg: Config{HostedZoneID: "Z1234", ZoneName: "example.com"}}
}

func TestCapabilitiesRequireTrailingDotAndSupportBatch(t *testing.T) {
	a := testAdapter()
	caps := a.Capabilities()

	assert.False(t, caps.SupportsProxied)
	assert.True(t, caps.RequiresTrailingDot)
	assert.True(t, caps.SupportsBatch)
	assert.True(t, caps.Types.Supports(endpoint.RecordTypeMX))
}

func TestSplitPriorityPrefixMX(t *testing.T) {
	rec := endpoint.Record{Type: endpoint.RecordTypeMX, Content: "10 mail.example.com."}
	splitPriorityPrefix(&rec)

	assert.Equal(t, uint16(10), rec.Priority)
	assert.Equal(t, "mail.example.com.", rec.Content)
}

func TestSplitPriorityPrefixSRV(t *testing.T) {
	rec := endpoint.Record{Type: endpoint.RecordTypeSRV, Content: "10 5 5060 sip.example.com."}
	splitPriorityPrefix(&rec)

	assert.Equal(t, uint16(10), rec.Priority)
	assert.Equal(t, uint16(5), rec.Weight)
	assert.Equal(t, uint16(5060), rec.Port)
	assert.Equal(t, "sip.example.com.", rec.Content)
}

func TestToResourceRecordSetAddsTrailingDotAndPriority(t *testing.T) {
	a := testAdapter()
	content := "mail.example.com"
	priority := uint16(10)

	rrs, err := a.toResourceRecordSet(endpoint.DesiredSpec{
		Hostname: "example.com",
		Type:     endpoint.RecordTypeMX,
		Content:  &content,
		Priority: &priority,
		TTL:      300,
	})
	require.NoError(t, err)

	assert.Equal(t, "example.com.", aws.ToString(rrs.Name))
	assert.Equal(t, types.RRType(endpoint.RecordTypeMX), rrs.Type)
	require.Len(t, rrs.ResourceRecords, 1)
	assert.Equal(t, "10 mail.example.com", aws.ToString(rrs.ResourceRecords[0].Value))
}

func TestToResourceRecordSetRejectsMissingContent(t *testing.T) {
	a := testAdapter()
	_, err := a.toResourceRecordSet(endpoint.DesiredSpec{Hostname: "example.com", Type: endpoint.RecordTypeA})
	assert.Error(t, err)
}

func TestToRecordsSplitsMultipleResourceRecords(t *testing.T) {
	a := testAdapter()
	rrs := types.ResourceRecordSet{
		Name: aws.String("app.example.com."),
		Type: types.RRTypeA,
		TTL:  aws.Int64(300),
		ResourceRecords: []types.ResourceRecord{
			{Value: aws.String("203.0.113.1")},
			{Value: aws.String("203.0.113.2")},
		},
	}

	records := a.toRecords(rrs)
	require.Len(t, records, 2)
	assert.Equal(t, "app.example.com", records[0].Name)
	assert.Equal(t, endpoint.TTL(300), records[0].TTL)
}
