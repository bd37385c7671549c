// Package daemon runs the long-lived scheduler: poll cycle, budget-gated
// investigation cycle, optional periodic summaries.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/interfaces"
)

// Config tunes the scheduler.
type Config struct {
	PollInterval    time.Duration
	DailyBudgetUSD  float64       // 0 disables the daily cap
	SummaryInterval time.Duration // 0 disables periodic summaries
}

// Scheduler drives the poll and investigation cycles on a fixed interval.
type Scheduler struct {
	poller   interfaces.Poller
	store    interfaces.SignatureStore
	notifier interfaces.Notifier
	ledger   *BudgetLedger
	metrics  *Metrics
	cfg      Config

	stop chan struct{}
	done chan struct{}

	lastSummary time.Time
	nowFn       func() time.Time
}

// New wires a scheduler. notifier may be nil; metrics may be nil when no
// metrics endpoint is served.
func New(poller interfaces.Poller, store interfaces.SignatureStore, notifier interfaces.Notifier, ledger *BudgetLedger, metrics *Metrics, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if ledger == nil {
		ledger = NewBudgetLedger()
	}
	return &Scheduler{
		poller:   poller,
		store:    store,
		notifier: notifier,
		ledger:   ledger,
		metrics:  metrics,
		cfg:      cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		nowFn:    time.Now,
	}
}

// Ledger exposes the budget ledger for status surfaces.
func (s *Scheduler) Ledger() *BudgetLedger { return s.ledger }

// Run executes cycles until ctx is cancelled or Stop is called. The
// first cycle runs immediately; an in-flight cycle always completes
// before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Float64("daily_budget_usd", s.cfg.DailyBudgetUSD).
		Msg("Scheduler started")

	for {
		s.runCycle(ctx)

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopped: context cancelled")
			return
		case <-s.stop:
			timer.Stop()
			log.Info().Msg("Scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// Stop signals Run to exit and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// runCycle executes one poll pass and, budget permitting, one
// investigation pass. Failures are contained: the next tick always runs.
func (s *Scheduler) runCycle(ctx context.Context) {
	pollRes, err := s.poller.ExecutePollCycle(ctx)
	if s.metrics != nil {
		s.metrics.PollCycles.Inc()
	}
	if err != nil {
		log.Error().Err(err).Msg("Poll cycle failed")
		if s.metrics != nil {
			s.metrics.PollErrors.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.ErrorsFound.Add(float64(pollRes.ErrorsFound))
		s.metrics.SignaturesCreated.Add(float64(pollRes.NewSignatures))
	}

	if s.budgetExhausted() {
		log.Warn().
			Float64("spent_usd", s.ledger.SpentToday()).
			Float64("budget_usd", s.cfg.DailyBudgetUSD).
			Msg("Daily budget exhausted, skipping investigation cycle")
		if s.metrics != nil {
			s.metrics.BudgetSkips.Inc()
		}
	} else {
		s.runInvestigations(ctx)
	}

	s.maybeSummarize(ctx)

	if s.metrics != nil {
		s.metrics.SpentTodayUSD.Set(s.ledger.SpentToday())
	}
}

func (s *Scheduler) budgetExhausted() bool {
	return s.cfg.DailyBudgetUSD > 0 && s.ledger.SpentToday() >= s.cfg.DailyBudgetUSD
}

func (s *Scheduler) runInvestigations(ctx context.Context) {
	res, err := s.poller.ExecuteInvestigationCycle(ctx)
	if s.metrics != nil {
		s.metrics.InvestigationCycles.Inc()
	}
	if res != nil {
		for _, diag := range res.DiagnosesProduced {
			s.ledger.RecordDiagnosisCost(diag.CostUSD)
			if s.metrics != nil {
				s.metrics.DiagnosisCostUSD.Add(diag.CostUSD)
			}
		}
		if s.metrics != nil {
			s.metrics.InvestigationsRun.Add(float64(res.InvestigationsAttempted))
			s.metrics.InvestigationsFail.Add(float64(res.InvestigationsFailed))
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Investigation cycle failed")
	}
}

// maybeSummarize pushes a stats summary to the notifier when the summary
// interval has elapsed.
func (s *Scheduler) maybeSummarize(ctx context.Context) {
	if s.notifier == nil || s.cfg.SummaryInterval <= 0 {
		return
	}
	now := s.nowFn()
	if !s.lastSummary.IsZero() && now.Sub(s.lastSummary) < s.cfg.SummaryInterval {
		return
	}
	s.lastSummary = now

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Stats rollup failed")
		return
	}
	if err := s.notifier.ReportSummary(ctx, stats); err != nil {
		log.Error().Err(err).Msg("Summary notification failed")
	}
}
