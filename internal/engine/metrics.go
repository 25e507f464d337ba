package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type metrics struct {
	loads   *prometheus.CounterVec
	steps   *prometheus.CounterVec
	stepDur *prometheus.HistogramVec
}

func newMetrics(e *Engine, reg prometheus.Registerer) *metrics {
	m := &metrics{
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shardd",
				Subsystem: "engine",
				Name:      "shard_loads_total",
				Help:      "Shard loads by result",
			},
			[]string{"result"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shardd",
				Subsystem: "engine",
				Name:      "steps_total",
				Help:      "Inference steps by input mode",
			},
			[]string{"mode"},
		),
		stepDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shardd",
				Subsystem: "engine",
				Name:      "step_duration_seconds",
				Help:      "Inference step latency including executor wait",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
	if reg == nil {
		return m
	}
	sessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "shardd",
		Subsystem: "engine",
		Name:      "sessions",
		Help:      "Live sessions in the token table",
	}, func() float64 { return float64(e.Sessions()) })
	queue := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "shardd",
		Subsystem: "engine",
		Name:      "executor_queue_depth",
		Help:      "Jobs accepted by the executor and not yet finished",
	}, func() float64 { return float64(e.exec.Pending()) })
	for _, c := range []prometheus.Collector{m.loads, m.steps, m.stepDur, sessions, queue} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("engine metrics not registered")
		}
	}
	return m
}
