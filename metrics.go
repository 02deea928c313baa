package memberid

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	issued        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	keySetFetches *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memberid",
			Name:      "credentials_issued_total",
			Help:      "Signed membership credentials issued, by credential type.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memberid",
			Name:      "issue_failures_total",
			Help:      "Credential issuance failures, by error code.",
		}, []string{"code"}),
		keySetFetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memberid",
			Name:      "keyset_fetch_seconds",
			Help:      "Latency of remote key set fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.issued, m.failures, m.keySetFetches} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeIssued(tag TypeTag) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(string(tag)).Inc()
}

func (m *Metrics) observeFailure(err error) {
	if m == nil {
		return
	}
	code := CodeOf(err)
	if code == "" {
		code = "unknown"
	}
	m.failures.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) observeFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.keySetFetches.WithLabelValues(outcome).Observe(d.Seconds())
}
