package prometheus

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsetu/civicauth"
)

type fakeSource struct {
	snap    civicauth.MetricsSnapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() civicauth.MetricsSnapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64                       { return f.dropped }

func scrape(t *testing.T, source MetricsSource) string {
	t.Helper()

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollectorFromSource(source))

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
		ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectorRendersCounters(t *testing.T) {
	source := &fakeSource{
		snap: civicauth.MetricsSnapshot{
			Counters: map[civicauth.MetricID]uint64{
				civicauth.MetricLoginSuccess: 7,
				civicauth.MetricLoginFailure: 3,
			},
		},
		dropped: 2,
	}

	body := scrape(t, source)
	assert.Contains(t, body, "civicauth_login_success_total 7")
	assert.Contains(t, body, "civicauth_login_failure_total 3")
	assert.Contains(t, body, "civicauth_audit_dropped_total 2")
}

func TestCollectorRendersLatencyHistogram(t *testing.T) {
	// One sample per engine bucket plus two in the open-ended tail.
	buckets := []uint64{1, 1, 1, 1, 1, 1, 1, 2}
	source := &fakeSource{
		snap: civicauth.MetricsSnapshot{
			Counters: map[civicauth.MetricID]uint64{},
			Histograms: map[civicauth.MetricID][]uint64{
				civicauth.MetricValidateLatency: buckets,
			},
		},
	}

	body := scrape(t, source)
	assert.Contains(t, body, `civicauth_validate_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, body, `civicauth_validate_latency_seconds_bucket{le="0.5"} 7`)
	assert.Contains(t, body, `civicauth_validate_latency_seconds_bucket{le="+Inf"} 9`)
	assert.Contains(t, body, "civicauth_validate_latency_seconds_count 9")
}

func TestCollectorEmptySnapshot(t *testing.T) {
	source := &fakeSource{snap: civicauth.MetricsSnapshot{
		Counters:   map[civicauth.MetricID]uint64{},
		Histograms: map[civicauth.MetricID][]uint64{},
	}}

	body := scrape(t, source)
	assert.Contains(t, body, "civicauth_audit_dropped_total 0")
	assert.NotContains(t, body, "civicauth_validate_latency_seconds_bucket")
}

func TestCumulativeConversion(t *testing.T) {
	got := cumulative([]uint64{2, 0, 3, 0, 0, 0, 1, 5})

	assert.Equal(t, uint64(2), got[0.005])
	assert.Equal(t, uint64(2), got[0.010])
	assert.Equal(t, uint64(5), got[0.025])
	assert.Equal(t, uint64(6), got[0.500])
	// The tail bucket is only visible through the total count.
	assert.Equal(t, uint64(11), histCount([]uint64{2, 0, 3, 0, 0, 0, 1, 5}))
}
