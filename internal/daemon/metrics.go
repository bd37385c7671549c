package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's Prometheus instruments.
type Metrics struct {
	PollCycles          prometheus.Counter
	PollErrors          prometheus.Counter
	ErrorsFound         prometheus.Counter
	SignaturesCreated   prometheus.Counter
	InvestigationCycles prometheus.Counter
	InvestigationsRun   prometheus.Counter
	InvestigationsFail  prometheus.Counter
	DiagnosisCostUSD    prometheus.Counter
	BudgetSkips         prometheus.Counter
	SpentTodayUSD       prometheus.Gauge
}

// NewMetrics registers the scheduler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_poll_cycles_total",
			Help: "Poll cycles executed.",
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_poll_errors_total",
			Help: "Poll cycles that failed.",
		}),
		ErrorsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_errors_found_total",
			Help: "Error events harvested from telemetry.",
		}),
		SignaturesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_signatures_created_total",
			Help: "New signatures created.",
		}),
		InvestigationCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_investigation_cycles_total",
			Help: "Investigation cycles executed.",
		}),
		InvestigationsRun: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_investigations_total",
			Help: "Investigations attempted.",
		}),
		InvestigationsFail: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_investigations_failed_total",
			Help: "Investigations that failed.",
		}),
		DiagnosisCostUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_diagnosis_cost_usd_total",
			Help: "Cumulative diagnosis spend in USD.",
		}),
		BudgetSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracehound_budget_skips_total",
			Help: "Investigation cycles skipped because the daily budget was exhausted.",
		}),
		SpentTodayUSD: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tracehound_spent_today_usd",
			Help: "Diagnosis spend accumulated for the current UTC day.",
		}),
	}
}
