// Package metrics exposes Prometheus instrumentation for the SCRAM client
// engine: derivation latency, cache effectiveness, authentication outcomes,
// and the health self-check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the SCRAM client.
type Collector struct {
	Registry *prometheus.Registry

	derivationDuration *prometheus.HistogramVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheSize          prometheus.Gauge
	authTotal          *prometheus.CounterVec
	selfCheckHealthy   *prometheus.GaugeVec
	selfCheckDuration  *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g. in tests) — each call creates an
// independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		derivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scram_derivation_seconds",
				Help:    "Duration of SaltedPassword derivation (Hi/PBKDF2) or cache lookup",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"mechanism", "cache_result"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scram_cache_hits_total",
				Help: "Secret cache hits, avoiding a PBKDF2/Hi re-derivation",
			},
			[]string{"mechanism"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scram_cache_misses_total",
				Help: "Secret cache misses requiring a fresh derivation",
			},
			[]string{"mechanism"},
		),
		cacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scram_cache_size",
				Help: "Number of entries currently held in the secret cache",
			},
		),
		authTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scram_auth_total",
				Help: "Completed SCRAM authentication attempts",
			},
			[]string{"mechanism", "result"},
		),
		selfCheckHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scram_self_check_healthy",
				Help: "Self-check loopback handshake status per mechanism (1=healthy, 0=unhealthy)",
			},
			[]string{"mechanism"},
		),
		selfCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scram_self_check_duration_seconds",
				Help:    "Duration of the self-check loopback handshake",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"mechanism"},
		),
	}

	reg.MustRegister(
		c.derivationDuration,
		c.cacheHits,
		c.cacheMisses,
		c.cacheSize,
		c.authTotal,
		c.selfCheckHealthy,
		c.selfCheckDuration,
	)

	return c
}

// DerivationCompleted records how long a session spent producing its
// SaltedPassword, either via a fresh Hi/PBKDF2 derivation ("miss") or a
// cache hit ("hit").
func (c *Collector) DerivationCompleted(mechanism string, d time.Duration, cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
		c.cacheHits.WithLabelValues(mechanism).Inc()
	} else {
		c.cacheMisses.WithLabelValues(mechanism).Inc()
	}
	c.derivationDuration.WithLabelValues(mechanism, result).Observe(d.Seconds())
}

// SetCacheSize sets the current secret cache entry count.
func (c *Collector) SetCacheSize(n int) {
	c.cacheSize.Set(float64(n))
}

// AuthCompleted records one finished authentication attempt.
func (c *Collector) AuthCompleted(mechanism string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.authTotal.WithLabelValues(mechanism, result).Inc()
}

// SelfCheckCompleted records the outcome of one self-check loopback
// handshake for a mechanism.
func (c *Collector) SelfCheckCompleted(mechanism string, d time.Duration, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.selfCheckHealthy.WithLabelValues(mechanism).Set(val)
	c.selfCheckDuration.WithLabelValues(mechanism).Observe(d.Seconds())
}
