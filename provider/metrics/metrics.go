// Package metrics instruments a provider.Provider with Prometheus send
// counters and latency histograms.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

// Collector holds the send metrics shared by every wrapped provider.
type Collector struct {
	sends    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoutbox",
			Name:      "sends_total",
			Help:      "Send attempts by provider and status.",
		}, []string{"provider", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shoutbox",
			Name:      "send_failures_total",
			Help:      "Failed send attempts by provider and reason.",
		}, []string{"provider", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shoutbox",
			Name:      "send_duration_seconds",
			Help:      "Time spent in a single send attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	for _, col := range []prometheus.Collector{c.sends, c.failures, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// Wrap returns a Provider that records every Send of p.
func (c *Collector) Wrap(p provider.Provider) provider.Provider {
	return &instrumented{Provider: p, collector: c}
}

type instrumented struct {
	provider.Provider
	collector *Collector
}

func (i *instrumented) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	name := i.Provider.Name()
	start := time.Now()

	result, err := i.Provider.Send(ctx, msg)

	i.collector.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		i.collector.sends.WithLabelValues(name, "failed").Inc()
		i.collector.failures.WithLabelValues(name, reason(err)).Inc()
		return nil, err
	}
	i.collector.sends.WithLabelValues(name, "success").Inc()
	return result, nil
}

// reason classifies err for the failures counter.
func reason(err error) string {
	var (
		vErr *email.ValidationError
		aErr *provider.APIError
		tErr *provider.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &aErr):
		return "api"
	case errors.As(err, &tErr):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
