package authz

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the authorization core.
type Metrics struct {
	decisions *prometheus.CounterVec
	cacheOps  *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the authorization metrics against the provided
// registerer. When the registerer is nil the default Prometheus registerer
// is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acesso_authz_decisions_total",
		Help: "Authorization decisions by policy kind and outcome.",
	}, []string{"policy", "outcome"})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acesso_perm_cache_total",
		Help: "Permission cache lookups by result.",
	}, []string{"result"})
	registerer.MustRegister(decisions, cacheOps)
	return &Metrics{decisions: decisions, cacheOps: cacheOps}
}

// Decision records one evaluated decision.
func (m *Metrics) Decision(kind PolicyKind, allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(string(kind), outcome).Inc()
}

// CacheResult records one cache lookup result (hit, miss or error).
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(result).Inc()
}
