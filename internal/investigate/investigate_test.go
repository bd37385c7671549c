package investigate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
	"github.com/tracehound/tracehound/internal/triage"
)

type fakeTelemetry struct {
	events    []models.ErrorEvent
	eventsErr error
	traces    []*models.TraceTree
	tracesErr error
	logs      []models.LogEntry
	logsErr   error
}

func (f *fakeTelemetry) GetRecentErrors(context.Context, time.Time, []string) ([]models.ErrorEvent, error) {
	return nil, nil
}
func (f *fakeTelemetry) GetTrace(context.Context, string) (*models.TraceTree, error) {
	return nil, errkind.NotFound("test", "unused")
}
func (f *fakeTelemetry) GetTraces(context.Context, []string) ([]*models.TraceTree, error) {
	return f.traces, f.tracesErr
}
func (f *fakeTelemetry) GetCorrelatedLogs(context.Context, []string, time.Duration) ([]models.LogEntry, error) {
	return f.logs, f.logsErr
}
func (f *fakeTelemetry) GetEventsForSignature(context.Context, string, int) ([]models.ErrorEvent, error) {
	return f.events, f.eventsErr
}

type fakeStore struct {
	updates    []models.Status
	updateErrs map[int]error // keyed by call index
	similar    []*models.Signature
	calls      int
}

func (f *fakeStore) GetByID(context.Context, string) (*models.Signature, error) { return nil, nil }
func (f *fakeStore) GetByFingerprint(context.Context, string) (*models.Signature, error) {
	return nil, nil
}
func (f *fakeStore) Save(context.Context, *models.Signature) error { return nil }
func (f *fakeStore) Update(_ context.Context, sig *models.Signature) error {
	idx := f.calls
	f.calls++
	f.updates = append(f.updates, sig.Status)
	if err, ok := f.updateErrs[idx]; ok {
		return err
	}
	return nil
}
func (f *fakeStore) GetPendingInvestigation(context.Context) ([]*models.Signature, error) {
	return nil, nil
}
func (f *fakeStore) GetSimilar(context.Context, *models.Signature, int) ([]*models.Signature, error) {
	return f.similar, nil
}
func (f *fakeStore) GetStats(context.Context) (*models.StoreStats, error) { return nil, nil }
func (f *fakeStore) List(context.Context, models.Status) ([]*models.Signature, error) {
	return nil, nil
}

type fakeDiagnoser struct {
	diag     *models.Diagnosis
	err      error
	lastCtx  *models.InvestigationContext
	estimate float64
}

func (f *fakeDiagnoser) EstimateCost(context.Context, *models.InvestigationContext) (float64, error) {
	return f.estimate, nil
}
func (f *fakeDiagnoser) Diagnose(_ context.Context, ic *models.InvestigationContext) (*models.Diagnosis, error) {
	f.lastCtx = ic
	return f.diag, f.err
}

type fakeNotifier struct {
	reports int
	err     error
}

func (f *fakeNotifier) Report(context.Context, *models.Signature, *models.Diagnosis) error {
	f.reports++
	return f.err
}
func (f *fakeNotifier) ReportSummary(context.Context, *models.StoreStats) error { return nil }

func newSig() *models.Signature {
	now := time.Now().UTC()
	return &models.Signature{
		ID:              "4f0c9a11-2222-4e77-9c3e-2f4fbb0d6f01",
		Fingerprint:     "fp-1",
		ErrorType:       "TimeoutError",
		Service:         "checkout",
		MessageTemplate: "timeout after *s",
		FirstSeen:       now.Add(-2 * time.Hour),
		LastSeen:        now,
		OccurrenceCount: 8,
		Status:          models.StatusNew,
	}
}

func goodDiag(conf models.Confidence) *models.Diagnosis {
	return &models.Diagnosis{
		RootCause:    "pool exhaustion",
		Evidence:     []string{"waiters"},
		SuggestedFix: "raise pool size",
		Confidence:   conf,
		DiagnosedAt:  time.Now().UTC(),
		Model:        "claude-sonnet-4-5",
		CostUSD:      0.02,
	}
}

func newInvestigator(tel *fakeTelemetry, st *fakeStore, d *fakeDiagnoser, n *fakeNotifier) *Investigator {
	return New(tel, st, d, n, triage.New(triage.DefaultConfig()), "/srv/checkout")
}

func TestInvestigateSuccess(t *testing.T) {
	tel := &fakeTelemetry{
		events: []models.ErrorEvent{{TraceID: "abc123", Service: "checkout", ErrorType: "TimeoutError"}},
		traces: []*models.TraceTree{{TraceID: "abc123"}},
		logs:   []models.LogEntry{{Body: "pool exhausted"}},
	}
	st := &fakeStore{similar: []*models.Signature{newSig()}}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceHigh)}
	n := &fakeNotifier{}

	sig := newSig()
	diag, err := newInvestigator(tel, st, d, n).Investigate(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, diag)

	assert.Equal(t, models.StatusDiagnosed, sig.Status)
	assert.Equal(t, diag, sig.Diagnosis)
	assert.Equal(t, []models.Status{models.StatusInvestigating, models.StatusDiagnosed}, st.updates)
	assert.Equal(t, 1, n.reports, "high confidence notifies")

	require.NotNil(t, d.lastCtx)
	assert.Len(t, d.lastCtx.RecentEvents, 1)
	assert.Len(t, d.lastCtx.Traces, 1)
	assert.Len(t, d.lastCtx.CorrelatedLogs, 1)
	assert.Len(t, d.lastCtx.HistoricalContext, 1)
	assert.Equal(t, "/srv/checkout", d.lastCtx.CodebasePath)
}

func TestInvestigateDiagnosisFailureReverts(t *testing.T) {
	tel := &fakeTelemetry{events: []models.ErrorEvent{{TraceID: "abc123"}}}
	st := &fakeStore{}
	d := &fakeDiagnoser{err: errkind.Timeout("test", errors.New("deadline"))}
	n := &fakeNotifier{}

	sig := newSig()
	diag, err := newInvestigator(tel, st, d, n).Investigate(context.Background(), sig)
	require.Error(t, err)
	assert.Nil(t, diag)
	assert.True(t, errors.Is(err, errkind.ErrTimeout))

	// INVESTIGATING first, then the revert back to NEW.
	assert.Equal(t, []models.Status{models.StatusInvestigating, models.StatusNew}, st.updates)
	assert.Equal(t, models.StatusNew, sig.Status, "caller's copy unchanged")
	assert.Zero(t, n.reports)
}

func TestInvestigateTraceFailureIsBestEffort(t *testing.T) {
	tel := &fakeTelemetry{
		events:    []models.ErrorEvent{{TraceID: "abc123"}},
		tracesErr: errkind.Transport("test", errors.New("backend down")),
		logs:      []models.LogEntry{{Body: "still here"}},
	}
	st := &fakeStore{}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceLow)}

	_, err := newInvestigator(tel, st, d, &fakeNotifier{}).Investigate(context.Background(), newSig())
	require.NoError(t, err)
	assert.Empty(t, d.lastCtx.Traces)
	assert.Len(t, d.lastCtx.CorrelatedLogs, 1)
}

func TestInvestigateEventFetchFailureReverts(t *testing.T) {
	tel := &fakeTelemetry{eventsErr: errkind.Transport("test", errors.New("backend down"))}
	st := &fakeStore{}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceHigh)}

	_, err := newInvestigator(tel, st, d, &fakeNotifier{}).Investigate(context.Background(), newSig())
	require.Error(t, err)
	assert.Equal(t, []models.Status{models.StatusInvestigating, models.StatusNew}, st.updates)
	assert.Nil(t, d.lastCtx, "no diagnosis without events")
}

func TestInvestigatePersistFailureStillReturnsDiagnosis(t *testing.T) {
	tel := &fakeTelemetry{events: []models.ErrorEvent{{TraceID: "abc123"}}}
	st := &fakeStore{updateErrs: map[int]error{1: errors.New("disk full")}}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceHigh)}

	diag, err := newInvestigator(tel, st, d, &fakeNotifier{}).Investigate(context.Background(), newSig())
	require.Error(t, err)
	require.NotNil(t, diag, "cost was spent, caller must account it")
	assert.InDelta(t, 0.02, diag.CostUSD, 1e-9)
}

func TestInvestigateNotificationFailureIsNonFatal(t *testing.T) {
	tel := &fakeTelemetry{events: []models.ErrorEvent{{TraceID: "abc123"}}}
	st := &fakeStore{}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceHigh)}
	n := &fakeNotifier{err: errors.New("webhook down")}

	sig := newSig()
	_, err := newInvestigator(tel, st, d, n).Investigate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiagnosed, sig.Status)
	assert.Equal(t, 1, n.reports)
}

func TestInvestigateLowConfidenceSkipsNotification(t *testing.T) {
	tel := &fakeTelemetry{events: []models.ErrorEvent{{TraceID: "abc123"}}}
	st := &fakeStore{}
	d := &fakeDiagnoser{diag: goodDiag(models.ConfidenceLow)}
	n := &fakeNotifier{}

	_, err := newInvestigator(tel, st, d, n).Investigate(context.Background(), newSig())
	require.NoError(t, err)
	assert.Zero(t, n.reports)
}
