package replica

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what replicas do. Counters are labelled with the
// replica id.
type Metrics struct {
	Adds            metrics.Counter
	Removes         metrics.Counter
	RejectedRemoves metrics.Counter
	Broadcasts      metrics.Counter
	Merges          metrics.Counter
	DecodeFailures  metrics.Counter
}

// NewMetrics returns metrics that discard every observation.
func NewMetrics() *Metrics {
	return &Metrics{
		Adds:            discard.NewCounter(),
		Removes:         discard.NewCounter(),
		RejectedRemoves: discard.NewCounter(),
		Broadcasts:      discard.NewCounter(),
		Merges:          discard.NewCounter(),
		DecodeFailures:  discard.NewCounter(),
	}
}

// NewPrometheusMetrics registers the replica counters with the
// default Prometheus registry. Call it once per process.
func NewPrometheusMetrics(namespace string) *Metrics {
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "replica",
			Name:      name,
			Help:      help,
		}, []string{"replica"})
	}

	return &Metrics{
		Adds:            counter("adds_total", "Number of local adds"),
		Removes:         counter("removes_total", "Number of local removes"),
		RejectedRemoves: counter("rejected_removes_total", "Number of removes of absent values"),
		Broadcasts:      counter("broadcasts_total", "Number of full-state broadcasts"),
		Merges:          counter("merges_total", "Number of remote states merged"),
		DecodeFailures:  counter("decode_failures_total", "Number of remote states that could not be decoded"),
	}
}

// For returns the counters labelled for replica id.
func (m *Metrics) For(id string) *Metrics {
	return &Metrics{
		Adds:            m.Adds.With("replica", id),
		Removes:         m.Removes.With("replica", id),
		RejectedRemoves: m.RejectedRemoves.With("replica", id),
		Broadcasts:      m.Broadcasts.With("replica", id),
		Merges:          m.Merges.With("replica", id),
		DecodeFailures:  m.DecodeFailures.With("replica", id),
	}
}
