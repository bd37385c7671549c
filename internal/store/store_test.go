package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/models"
)

func newSignature(fp, service, errType string, lastSeen time.Time, count int) *models.Signature {
	return &models.Signature{
		ID:              uuid.NewString(),
		Fingerprint:     fp,
		StackHash:       "0123456789abcdef",
		ErrorType:       errType,
		Service:         service,
		MessageTemplate: "timeout after *s",
		FirstSeen:       lastSeen.Add(-time.Hour),
		LastSeen:        lastSeen,
		OccurrenceCount: count,
		Status:          models.StatusNew,
	}
}

// Both stores must satisfy the same contract.
func stores(t *testing.T) map[string]interfaces.SignatureStore {
	t.Helper()
	sqlite, err := NewSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]interfaces.SignatureStore{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lastSeen := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
			sig := newSignature("fp-roundtrip", "api", "TimeoutError", lastSeen, 4)
			sig.Tags = []string{models.TagCritical, "payments"}
			sig.Diagnosis = &models.Diagnosis{
				RootCause:    "pool exhausted",
				Evidence:     []string{"z-first", "a-second", "m-third"},
				SuggestedFix: "raise pool size",
				Confidence:   models.ConfidenceMedium,
				DiagnosedAt:  lastSeen.Add(-10 * time.Minute),
				Model:        "claude-sonnet-4-5",
				CostUSD:      0.25,
			}
			require.NoError(t, s.Save(ctx, sig))

			got, err := s.GetByID(ctx, sig.ID)
			require.NoError(t, err)
			assert.Equal(t, sig.Fingerprint, got.Fingerprint)
			assert.Equal(t, sig.MessageTemplate, got.MessageTemplate)
			assert.True(t, got.FirstSeen.Equal(sig.FirstSeen))
			assert.True(t, got.LastSeen.Equal(sig.LastSeen))
			assert.Equal(t, sig.Tags, got.Tags)
			require.NotNil(t, got.Diagnosis)
			assert.Equal(t, sig.Diagnosis.Evidence, got.Diagnosis.Evidence, "evidence order must survive")
			assert.Equal(t, models.ConfidenceMedium, got.Diagnosis.Confidence)
			assert.Equal(t, sig.Diagnosis.CostUSD, got.Diagnosis.CostUSD)

			byFP, err := s.GetByFingerprint(ctx, sig.Fingerprint)
			require.NoError(t, err)
			assert.Equal(t, sig.ID, byFP.ID)
		})
	}
}

func TestNotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetByID(ctx, "nope")
			assert.True(t, errors.Is(err, errkind.ErrNotFound))
			_, err = s.GetByFingerprint(ctx, "nope")
			assert.True(t, errors.Is(err, errkind.ErrNotFound))
		})
	}
}

func TestUpsertOnFingerprint(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			sig := newSignature("fp-upsert", "api", "TimeoutError", now, 1)
			require.NoError(t, s.Save(ctx, sig))

			sig.OccurrenceCount = 2
			sig.LastSeen = now.Add(time.Minute)
			require.NoError(t, s.Update(ctx, sig))

			got, err := s.GetByFingerprint(ctx, "fp-upsert")
			require.NoError(t, err)
			assert.Equal(t, 2, got.OccurrenceCount)
			assert.True(t, got.LastSeen.Equal(now.Add(time.Minute)))

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sig := newSignature("fp-bad", "api", "TimeoutError", time.Now().UTC(), 0)
			err := s.Save(context.Background(), sig)
			assert.True(t, errors.Is(err, errkind.ErrValidation))
		})
	}
}

func TestPendingInvestigationOrdering(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			older := newSignature("fp-older", "api", "A", now.Add(-time.Hour), 9)
			newest := newSignature("fp-newest", "api", "B", now, 1)
			tied := newSignature("fp-tied", "api", "C", now.Add(-time.Hour), 20)
			diagnosed := newSignature("fp-diag", "api", "D", now, 5)
			diagnosed.Status = models.StatusDiagnosed
			muted := newSignature("fp-muted", "api", "E", now, 5)
			muted.Status = models.StatusMuted

			for _, sig := range []*models.Signature{older, newest, tied, diagnosed, muted} {
				require.NoError(t, s.Save(ctx, sig))
			}

			pending, err := s.GetPendingInvestigation(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 3, "only NEW signatures are pending")
			assert.Equal(t, "fp-newest", pending[0].Fingerprint)
			// Tie on last_seen broken by occurrence count.
			assert.Equal(t, "fp-tied", pending[1].Fingerprint)
			assert.Equal(t, "fp-older", pending[2].Fingerprint)
		})
	}
}

func TestGetSimilar(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			target := newSignature("fp-target", "api", "TimeoutError", now, 3)
			sameKind := newSignature("fp-same", "api", "TimeoutError", now.Add(-time.Minute), 2)
			otherService := newSignature("fp-svc", "worker", "TimeoutError", now, 2)
			otherType := newSignature("fp-type", "api", "ValueError", now, 2)

			for _, sig := range []*models.Signature{target, sameKind, otherService, otherType} {
				require.NoError(t, s.Save(ctx, sig))
			}

			similar, err := s.GetSimilar(ctx, target, 5)
			require.NoError(t, err)
			require.Len(t, similar, 1)
			assert.Equal(t, "fp-same", similar[0].Fingerprint)
		})
	}
}

func TestGetStats(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			a := newSignature("fp-a", "api", "TimeoutError", now, 4)
			b := newSignature("fp-b", "api", "ValueError", now, 2)
			b.Status = models.StatusDiagnosed
			b.Diagnosis = &models.Diagnosis{
				RootCause: "x", Evidence: []string{"e"}, SuggestedFix: "f",
				Confidence: models.ConfidenceHigh, DiagnosedAt: now,
			}
			c := newSignature("fp-c", "worker", "TimeoutError", now, 6)

			for _, sig := range []*models.Signature{a, b, c} {
				require.NoError(t, s.Save(ctx, sig))
			}

			stats, err := s.GetStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, stats.TotalSignatures)
			assert.Equal(t, 12, stats.TotalErrorsSeen)
			assert.Equal(t, 2, stats.ByStatus[models.StatusNew])
			assert.Equal(t, 1, stats.ByStatus[models.StatusDiagnosed])
			assert.Equal(t, 2, stats.ByService["api"])
			assert.Equal(t, 1, stats.ByService["worker"])
			assert.InDelta(t, 4.0, stats.AvgOccurrenceCount, 0.001)
			assert.Greater(t, stats.OldestSignatureAgeHours, 0.0)
		})
	}
}

func TestListByStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			a := newSignature("fp-1", "api", "A", now, 1)
			b := newSignature("fp-2", "api", "B", now, 1)
			b.Status = models.StatusMuted

			require.NoError(t, s.Save(ctx, a))
			require.NoError(t, s.Save(ctx, b))

			muted, err := s.List(ctx, models.StatusMuted)
			require.NoError(t, err)
			require.Len(t, muted, 1)
			assert.Equal(t, "fp-2", muted[0].Fingerprint)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}
