// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration      *prometheus.HistogramVec
	Logins               *prometheus.CounterVec
	Syncs                *prometheus.CounterVec
	PunishmentsCreated   *prometheus.CounterVec
	Pardons              *prometheus.CounterVec
	Rollbacks            *prometheus.CounterVec
	AppealsCreated       *prometheus.CounterVec
	AccountsLinked       *prometheus.CounterVec
	LinkedBansPropagated *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moderation",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		Logins: counter(reg, "player_logins_total", "Player login requests processed.", "server"),
		Syncs:  counter(reg, "server_syncs_total", "Server sync requests processed.", "server"),
		PunishmentsCreated: counter(reg, "punishments_created_total",
			"Punishments created, by issue mode.", "server", "mode"),
		Pardons:        counter(reg, "pardons_total", "Pardons applied.", "server"),
		Rollbacks:      counter(reg, "rollbacks_total", "Rollback operations, by variant.", "server", "variant"),
		AppealsCreated: counter(reg, "appeals_created_total", "Appeal tickets opened.", "server"),
		AccountsLinked: counter(reg, "accounts_linked_total", "Account links recorded.", "server"),
		LinkedBansPropagated: counter(reg, "linked_bans_propagated_total",
			"Linked bans issued by propagation.", "server"),
	}
	reg.MustRegister(m.RequestDuration)
	return m
}

func counter(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moderation",
		Name:      name,
		Help:      help,
	}, labels)
	reg.MustRegister(c)
	return c
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records request latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
