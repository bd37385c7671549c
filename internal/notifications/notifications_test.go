package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/internal/models"
)

func testSignature() *models.Signature {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.Signature{
		ID:              "c0b1f8a0-0a51-4a77-9c3e-2f4fbb0d6f01",
		Fingerprint:     "abcd",
		ErrorType:       "TimeoutError",
		Service:         "checkout",
		MessageTemplate: "timeout after *s",
		FirstSeen:       now.Add(-time.Hour),
		LastSeen:        now,
		OccurrenceCount: 12,
		Status:          models.StatusDiagnosed,
	}
}

func testDiagnosis() *models.Diagnosis {
	return &models.Diagnosis{
		RootCause:    "pool exhaustion",
		Evidence:     []string{"40 waiters"},
		SuggestedFix: "raise pool size",
		Confidence:   models.ConfidenceHigh,
		DiagnosedAt:  time.Now().UTC(),
		Model:        "claude-sonnet-4-5",
		CostUSD:      0.01,
	}
}

func TestReportDeliversPayload(t *testing.T) {
	var got diagnosisPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL}, time.Second)
	require.NoError(t, w.Report(context.Background(), testSignature(), testDiagnosis()))

	assert.Equal(t, "signature.diagnosed", got.Event)
	assert.Equal(t, "checkout", got.Signature.Service)
	assert.Equal(t, "pool exhaustion", got.Diagnosis.RootCause)
}

func TestReportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL}, time.Second)
	w.backoff = time.Millisecond
	require.NoError(t, w.Report(context.Background(), testSignature(), testDiagnosis()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestReportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL}, time.Second)
	w.backoff = time.Millisecond
	err := w.Report(context.Background(), testSignature(), testDiagnosis())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReportContinuesPastFailingDestination(t *testing.T) {
	var okCalls atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
	}))
	defer good.Close()

	w := NewWebhook([]string{bad.URL, good.URL}, time.Second)
	w.backoff = time.Millisecond
	err := w.Report(context.Background(), testSignature(), testDiagnosis())
	require.Error(t, err, "failure still surfaces")
	assert.Equal(t, int32(1), okCalls.Load(), "healthy destination still notified")
}

func TestReportSummary(t *testing.T) {
	var got summaryPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL}, time.Second)
	stats := &models.StoreStats{
		TotalSignatures: 7,
		ByStatus:        map[models.Status]int{models.StatusNew: 3, models.StatusDiagnosed: 4},
	}
	require.NoError(t, w.ReportSummary(context.Background(), stats))
	assert.Equal(t, "stats.summary", got.Event)
	assert.Equal(t, 7, got.Stats.TotalSignatures)
}

func TestNoURLsIsNoOp(t *testing.T) {
	w := NewWebhook(nil, time.Second)
	require.NoError(t, w.Report(context.Background(), testSignature(), testDiagnosis()))
}
