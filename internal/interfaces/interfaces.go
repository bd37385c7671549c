// Package interfaces defines the port contracts between the tracehound
// core and its adapters. Core code depends only on these; backends are
// swapped at composition time.
package interfaces

import (
	"context"
	"time"

	"github.com/tracehound/tracehound/internal/models"
)

// Telemetry exposes the observability backend: recent errors, traces,
// and correlated logs.
type Telemetry interface {
	// GetRecentErrors returns events with timestamp >= since, optionally
	// restricted to the given services.
	GetRecentErrors(ctx context.Context, since time.Time, services []string) ([]models.ErrorEvent, error)
	// GetTrace fetches a single trace. Fails with a validation error on a
	// malformed id and not-found when the trace is absent.
	GetTrace(ctx context.Context, traceID string) (*models.TraceTree, error)
	// GetTraces validates all ids upfront, then fetches best-effort;
	// individual fetch failures are skipped with a warning.
	GetTraces(ctx context.Context, traceIDs []string) ([]*models.TraceTree, error)
	// GetCorrelatedLogs returns logs joined to the traces within the window.
	GetCorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]models.LogEntry, error)
	// GetEventsForSignature returns recent events carrying the fingerprint.
	GetEventsForSignature(ctx context.Context, fingerprint string, limit int) ([]models.ErrorEvent, error)
}

// SignatureStore persists signatures. Save and Update share upsert
// semantics keyed on fingerprint.
type SignatureStore interface {
	GetByID(ctx context.Context, id string) (*models.Signature, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Signature, error)
	Save(ctx context.Context, sig *models.Signature) error
	Update(ctx context.Context, sig *models.Signature) error
	// GetPendingInvestigation returns all NEW signatures ordered by
	// last_seen desc, then occurrence_count desc.
	GetPendingInvestigation(ctx context.Context) ([]*models.Signature, error)
	// GetSimilar returns signatures with the same service and error type,
	// excluding sig itself.
	GetSimilar(ctx context.Context, sig *models.Signature, limit int) ([]*models.Signature, error)
	GetStats(ctx context.Context) (*models.StoreStats, error)
	// List returns signatures, optionally filtered by status.
	List(ctx context.Context, status models.Status) ([]*models.Signature, error)
}

// Diagnoser turns an investigation context into a diagnosis via the LLM
// backend.
type Diagnoser interface {
	// EstimateCost returns the true estimated USD for diagnosing the
	// context, never capped to any budget.
	EstimateCost(ctx context.Context, ic *models.InvestigationContext) (float64, error)
	// Diagnose runs the diagnosis. Fails with a budget-exceeded error when
	// the estimate is above the per-call budget; may fail with timeout,
	// transport, or parse errors. The returned diagnosis carries the
	// actual (or best-available) cost.
	Diagnose(ctx context.Context, ic *models.InvestigationContext) (*models.Diagnosis, error)
}

// Notifier delivers diagnoses and periodic summaries to human channels.
// Delivery is at-least-once; downstream must be idempotent.
type Notifier interface {
	Report(ctx context.Context, sig *models.Signature, diag *models.Diagnosis) error
	ReportSummary(ctx context.Context, stats *models.StoreStats) error
}

// Poller is the driving port the scheduler and webhook layer invoke.
type Poller interface {
	ExecutePollCycle(ctx context.Context) (*models.PollResult, error)
	ExecuteInvestigationCycle(ctx context.Context) (*models.InvestigationResult, error)
}

// Manager is the driving port behind the CLI and webhook management
// endpoints.
type Manager interface {
	Mute(ctx context.Context, id, reason string) (*models.Signature, error)
	Resolve(ctx context.Context, id, fix string) (*models.Signature, error)
	Retriage(ctx context.Context, id string) (*models.Signature, error)
	Reinvestigate(ctx context.Context, id string) (*models.Diagnosis, error)
	GetSignatureDetails(ctx context.Context, id string) (*models.SignatureDetails, error)
	ListSignatures(ctx context.Context, status models.Status) ([]*models.Signature, error)
}
