// Package poll implements the two scheduler-driven cycles: harvesting
// recent errors into signatures, and working the investigation queue.
package poll

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/fingerprint"
	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/models"
	"github.com/tracehound/tracehound/internal/triage"
)

// investigator runs the workflow for one signature. Satisfied by
// investigate.Investigator.
type investigator interface {
	Investigate(ctx context.Context, sig *models.Signature) (*models.Diagnosis, error)
}

// Config tunes the poll cycles.
type Config struct {
	LookbackWindow time.Duration
	Services       []string
}

// Service implements the poller port.
type Service struct {
	telemetry    interfaces.Telemetry
	store        interfaces.SignatureStore
	triage       *triage.Engine
	investigator investigator
	cfg          Config

	nowFn func() time.Time
	newID func() string
}

// New wires a poll service.
func New(telemetry interfaces.Telemetry, store interfaces.SignatureStore, engine *triage.Engine, inv investigator, cfg Config) *Service {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 15 * time.Minute
	}
	return &Service{
		telemetry:    telemetry,
		store:        store,
		triage:       engine,
		investigator: inv,
		cfg:          cfg,
		nowFn:        time.Now,
		newID:        uuid.NewString,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *Service) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// ExecutePollCycle harvests errors from the lookback window and folds
// them into signatures. One malformed event never aborts the cycle.
func (s *Service) ExecutePollCycle(ctx context.Context) (*models.PollResult, error) {
	now := s.nowFn().UTC()
	since := now.Add(-s.cfg.LookbackWindow)

	events, err := s.telemetry.GetRecentErrors(ctx, since, s.cfg.Services)
	if err != nil {
		return nil, err
	}

	result := &models.PollResult{Timestamp: now}
	result.ErrorsFound = len(events)

	queued := map[string]bool{}
	for i := range events {
		ev := &events[i]
		sig, created, err := s.ingest(ctx, ev)
		if err != nil {
			log.Error().Err(err).
				Str("service", ev.Service).
				Str("error_type", ev.ErrorType).
				Msg("Failed to ingest error event")
			continue
		}
		if created {
			result.NewSignatures++
		} else {
			result.UpdatedSignatures++
		}
		if !queued[sig.Fingerprint] && s.triage.ShouldInvestigate(sig) {
			queued[sig.Fingerprint] = true
			result.InvestigationsQueued++
		}
	}

	log.Info().
		Int("errors_found", result.ErrorsFound).
		Int("new_signatures", result.NewSignatures).
		Int("updated_signatures", result.UpdatedSignatures).
		Int("investigations_queued", result.InvestigationsQueued).
		Msg("Poll cycle complete")

	return result, nil
}

// ingest folds one event into its signature, creating it on first sight.
func (s *Service) ingest(ctx context.Context, ev *models.ErrorEvent) (*models.Signature, bool, error) {
	fp := fingerprint.Fingerprint(*ev)

	existing, err := s.store.GetByFingerprint(ctx, fp)
	switch {
	case err == nil:
		existing.OccurrenceCount++
		if ev.Timestamp.After(existing.LastSeen) {
			existing.LastSeen = ev.Timestamp
		}
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil

	case errors.Is(err, errkind.ErrNotFound):
		sig := &models.Signature{
			ID:              s.newID(),
			Fingerprint:     fp,
			StackHash:       fingerprint.StackHash(ev.Stack),
			ErrorType:       ev.ErrorType,
			Service:         ev.Service,
			MessageTemplate: fingerprint.TemplatizeMessage(ev.ErrorMessage),
			FirstSeen:       ev.Timestamp,
			LastSeen:        ev.Timestamp,
			OccurrenceCount: 1,
			Status:          models.StatusNew,
		}
		if err := s.store.Save(ctx, sig); err != nil {
			return nil, false, err
		}
		log.Debug().
			Str("signature_id", sig.ID).
			Str("service", sig.Service).
			Str("template", sig.MessageTemplate).
			Msg("New signature")
		return sig, true, nil

	default:
		return nil, false, err
	}
}

// ExecuteInvestigationCycle works the pending queue in priority order.
// Each signature is re-checked against triage before spending money on
// it; one failed investigation never aborts the cycle.
func (s *Service) ExecuteInvestigationCycle(ctx context.Context) (*models.InvestigationResult, error) {
	pending, err := s.store.GetPendingInvestigation(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return s.triage.CalculatePriority(pending[i]) > s.triage.CalculatePriority(pending[j])
	})

	result := &models.InvestigationResult{Timestamp: s.nowFn().UTC()}
	for _, sig := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !s.triage.ShouldInvestigate(sig) {
			continue
		}

		result.InvestigationsAttempted++
		diag, err := s.investigator.Investigate(ctx, sig)
		if diag != nil {
			result.DiagnosesProduced = append(result.DiagnosesProduced, *diag)
		}
		if err != nil {
			result.InvestigationsFailed++
			log.Error().Err(err).Str("signature_id", sig.ID).Msg("Investigation failed")
		}
	}

	log.Info().
		Int("attempted", result.InvestigationsAttempted).
		Int("failed", result.InvestigationsFailed).
		Int("diagnoses", len(result.DiagnosesProduced)).
		Msg("Investigation cycle complete")

	return result, nil
}
