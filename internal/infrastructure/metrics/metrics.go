package metrics

import (
	"net/http"
	"time"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dlcd"

// Collector exposes the contract transitions and the outcome of the periodic
// checks.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	checks        *prometheus.CounterVec
	checkDuration prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "contracts",
				Name:      "transitions_total",
				Help:      "Total number of contract state transitions.",
			},
			[]string{"state", "party"},
		),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "check",
				Name:      "runs_total",
				Help:      "Total number of periodic checks.",
			},
			[]string{"success"},
		),
		checkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "check",
				Name:      "duration_seconds",
				Help:      "Duration of periodic checks.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
	}

	c.registry.MustRegister(
		c.transitions,
		c.checks,
		c.checkDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// OnContract is meant to be registered as contract events handler.
func (c *Collector) OnContract(contract domain.Contract) {
	if len(contract.Changes) <= 0 {
		return
	}
	party := "accept"
	if contract.IsOfferParty {
		party = "offer"
	}
	state := contract.State.String()
	if _, ok := contract.Changes[len(contract.Changes)-1].(domain.ContractSettled); ok {
		state = "SETTLED"
	}
	c.transitions.WithLabelValues(state, party).Add(float64(len(contract.Changes)))
}

func (c *Collector) RecordCheck(duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	c.checks.WithLabelValues(success).Inc()
	c.checkDuration.Observe(duration.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
