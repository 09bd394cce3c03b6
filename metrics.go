package civicauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricTokenLoginSuccess
	MetricTokenLoginFailure
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRegisterFailure
	MetricRegisterRateLimited
	MetricRegisterCompensated
	MetricCodeRequested
	MetricCodeDeliveryFailed
	MetricCodeConfirmSuccess
	MetricCodeConfirmFailure
	MetricCodeAttemptsExceeded
	MetricCodeRateLimited
	MetricVerificationComplete
	MetricSessionUpgraded
	MetricUpgradeTokenRejected
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricPasswordResetAttemptsExceeded
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricRoleRedirect
	MetricRateLimitHit
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so hot
// counters do not contend under concurrent load.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. All methods are safe
// for concurrent use; a nil *Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter, suitable
// for export.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a session validation latency sample. Only
// MetricValidateLatency carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

// MetricName returns the stable external name for a counter. Exporters
// key on these names.
func MetricName(id MetricID) string {
	switch id {
	case MetricLoginSuccess:
		return "login_success"
	case MetricLoginFailure:
		return "login_failure"
	case MetricLoginRateLimited:
		return "login_rate_limited"
	case MetricTokenLoginSuccess:
		return "token_login_success"
	case MetricTokenLoginFailure:
		return "token_login_failure"
	case MetricRegisterSuccess:
		return "register_success"
	case MetricRegisterDuplicate:
		return "register_duplicate"
	case MetricRegisterFailure:
		return "register_failure"
	case MetricRegisterRateLimited:
		return "register_rate_limited"
	case MetricRegisterCompensated:
		return "register_compensated"
	case MetricCodeRequested:
		return "verification_code_requested"
	case MetricCodeDeliveryFailed:
		return "verification_code_delivery_failed"
	case MetricCodeConfirmSuccess:
		return "verification_code_confirm_success"
	case MetricCodeConfirmFailure:
		return "verification_code_confirm_failure"
	case MetricCodeAttemptsExceeded:
		return "verification_code_attempts_exceeded"
	case MetricCodeRateLimited:
		return "verification_code_rate_limited"
	case MetricVerificationComplete:
		return "verification_complete"
	case MetricSessionUpgraded:
		return "session_upgraded"
	case MetricUpgradeTokenRejected:
		return "upgrade_token_rejected"
	case MetricPasswordResetRequest:
		return "password_reset_request"
	case MetricPasswordResetConfirmSuccess:
		return "password_reset_confirm_success"
	case MetricPasswordResetConfirmFailure:
		return "password_reset_confirm_failure"
	case MetricPasswordResetAttemptsExceeded:
		return "password_reset_attempts_exceeded"
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionInvalidated:
		return "session_invalidated"
	case MetricLogout:
		return "logout"
	case MetricLogoutAll:
		return "logout_all"
	case MetricRoleRedirect:
		return "role_redirect"
	case MetricRateLimitHit:
		return "rate_limit_hit"
	case MetricValidateLatency:
		return "validate_latency"
	default:
		return "unknown"
	}
}
