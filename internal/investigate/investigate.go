// Package investigate runs the investigation workflow for one signature:
// gather context from telemetry, ask the diagnoser, persist the outcome,
// and notify when triage says so.
package investigate

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/models"
	"github.com/tracehound/tracehound/internal/triage"
)

const (
	maxRecentEvents = 5
	maxSimilar      = 5
	logWindow       = 5 * time.Minute
)

// Investigator drives one signature through investigation.
type Investigator struct {
	telemetry    interfaces.Telemetry
	store        interfaces.SignatureStore
	diagnoser    interfaces.Diagnoser
	notifier     interfaces.Notifier
	triage       *triage.Engine
	codebasePath string
}

// New wires an investigator. notifier may be nil when no channels are
// configured.
func New(
	telemetry interfaces.Telemetry,
	store interfaces.SignatureStore,
	diagnoser interfaces.Diagnoser,
	notifier interfaces.Notifier,
	engine *triage.Engine,
	codebasePath string,
) *Investigator {
	return &Investigator{
		telemetry:    telemetry,
		store:        store,
		diagnoser:    diagnoser,
		notifier:     notifier,
		triage:       engine,
		codebasePath: codebasePath,
	}
}

// Investigate runs the full workflow for sig. On diagnosis failure the
// signature reverts to its prior status. A diagnosis may be returned
// alongside an error when the model call succeeded but persisting the
// result failed; callers should still account its cost.
func (inv *Investigator) Investigate(ctx context.Context, sig *models.Signature) (*models.Diagnosis, error) {
	const op = "investigate.investigate"
	originalStatus := sig.Status

	working := sig.Clone()
	working.Status = models.StatusInvestigating
	if err := inv.store.Update(ctx, working); err != nil {
		return nil, errkind.Transport(op, err)
	}

	log.Info().
		Str("signature_id", sig.ID).
		Str("service", sig.Service).
		Str("error_type", sig.ErrorType).
		Int("occurrences", sig.OccurrenceCount).
		Msg("Investigation started")

	ic, err := inv.buildContext(ctx, working)
	if err != nil {
		inv.revert(ctx, working, originalStatus)
		return nil, err
	}

	diag, err := inv.diagnoser.Diagnose(ctx, ic)
	if err != nil {
		log.Error().Err(err).Str("signature_id", sig.ID).Msg("Diagnosis failed")
		inv.revert(ctx, working, originalStatus)
		return nil, err
	}

	working.Status = models.StatusDiagnosed
	working.Diagnosis = diag
	if err := inv.store.Update(ctx, working); err != nil {
		// Cost is already spent; surface both so the caller can account it.
		log.Error().Err(err).Str("signature_id", sig.ID).Msg("Failed to persist diagnosis")
		return diag, errkind.Transport(op, err)
	}

	log.Info().
		Str("signature_id", sig.ID).
		Str("confidence", string(diag.Confidence)).
		Float64("cost_usd", diag.CostUSD).
		Msg("Investigation complete")

	if inv.notifier != nil && inv.triage.ShouldNotify(working, diag, originalStatus) {
		if err := inv.notifier.Report(ctx, working, diag); err != nil {
			// Notification failure never fails the investigation.
			log.Error().Err(err).Str("signature_id", sig.ID).Msg("Notification failed")
		}
	}

	*sig = *working
	return diag, nil
}

// buildContext assembles the diagnoser input. Recent events are required;
// traces, logs, and history are best-effort.
func (inv *Investigator) buildContext(ctx context.Context, sig *models.Signature) (*models.InvestigationContext, error) {
	events, err := inv.telemetry.GetEventsForSignature(ctx, sig.Fingerprint, maxRecentEvents)
	if err != nil {
		return nil, err
	}

	var traceIDs []string
	seen := map[string]bool{}
	for _, ev := range events {
		if ev.TraceID != "" && !seen[ev.TraceID] {
			seen[ev.TraceID] = true
			traceIDs = append(traceIDs, ev.TraceID)
		}
	}

	var traces []*models.TraceTree
	if len(traceIDs) > 0 {
		traces, err = inv.telemetry.GetTraces(ctx, traceIDs)
		if err != nil {
			log.Warn().Err(err).Str("signature_id", sig.ID).Msg("Trace fetch failed, continuing without traces")
			traces = nil
		}
	}

	var logs []models.LogEntry
	if len(traceIDs) > 0 {
		logs, err = inv.telemetry.GetCorrelatedLogs(ctx, traceIDs, logWindow)
		if err != nil {
			log.Warn().Err(err).Str("signature_id", sig.ID).Msg("Log fetch failed, continuing without logs")
			logs = nil
		}
	}

	similar, err := inv.store.GetSimilar(ctx, sig, maxSimilar)
	if err != nil {
		log.Warn().Err(err).Str("signature_id", sig.ID).Msg("Similar signature lookup failed")
		similar = nil
	}

	return &models.InvestigationContext{
		Signature:         sig,
		RecentEvents:      events,
		Traces:            traces,
		CorrelatedLogs:    logs,
		CodebasePath:      inv.codebasePath,
		HistoricalContext: similar,
	}, nil
}

// revert puts the signature back to its pre-investigation status. A
// store failure here is logged, not returned: the original error (or the
// diagnose failure) is the one the caller needs.
func (inv *Investigator) revert(ctx context.Context, sig *models.Signature, status models.Status) {
	sig.Status = status
	if err := inv.store.Update(ctx, sig); err != nil {
		log.Error().Err(err).Str("signature_id", sig.ID).Msg("Failed to revert signature status")
	}
}
