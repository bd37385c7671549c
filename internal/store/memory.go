// Package store provides signature persistence: a SQLite-backed store for
// production and a mutex-guarded in-memory store for tests and ephemeral
// runs. Both honor the same upsert-on-fingerprint contract.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tracehound/tracehound/internal/errkind"
	"github.com/tracehound/tracehound/internal/models"
)

// Memory is an in-memory signature store.
type Memory struct {
	mu    sync.RWMutex
	byID  map[string]*models.Signature
	byFP  map[string]*models.Signature
	nowFn func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:  make(map[string]*models.Signature),
		byFP:  make(map[string]*models.Signature),
		nowFn: time.Now,
	}
}

// GetByID returns the signature with the given id.
func (m *Memory) GetByID(_ context.Context, id string) (*models.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.byID[id]
	if !ok {
		return nil, errkind.NotFound("store.get_by_id", id)
	}
	return sig.Clone(), nil
}

// GetByFingerprint returns the signature with the given fingerprint.
func (m *Memory) GetByFingerprint(_ context.Context, fingerprint string) (*models.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.byFP[fingerprint]
	if !ok {
		return nil, errkind.NotFound("store.get_by_fingerprint", fingerprint)
	}
	return sig.Clone(), nil
}

// Save upserts the signature keyed on fingerprint.
func (m *Memory) Save(_ context.Context, sig *models.Signature) error {
	if err := sig.Validate(); err != nil {
		return errkind.Validation("store.save", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// An existing row for this fingerprint keeps its identity.
	if prev, ok := m.byFP[sig.Fingerprint]; ok && prev.ID != sig.ID {
		delete(m.byID, prev.ID)
	}
	clone := sig.Clone()
	m.byID[clone.ID] = clone
	m.byFP[clone.Fingerprint] = clone
	return nil
}

// Update has the same upsert semantics as Save.
func (m *Memory) Update(ctx context.Context, sig *models.Signature) error {
	return m.Save(ctx, sig)
}

// GetPendingInvestigation returns all NEW signatures ordered by last_seen
// desc, then occurrence_count desc.
func (m *Memory) GetPendingInvestigation(_ context.Context) ([]*models.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Signature
	for _, sig := range m.byID {
		if sig.Status == models.StatusNew {
			out = append(out, sig.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].OccurrenceCount > out[j].OccurrenceCount
	})
	return out, nil
}

// GetSimilar returns signatures sharing service and error type, excluding
// sig itself.
func (m *Memory) GetSimilar(_ context.Context, sig *models.Signature, limit int) ([]*models.Signature, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Signature
	for _, other := range m.byID {
		if other.ID == sig.ID {
			continue
		}
		if other.Service == sig.Service && other.ErrorType == sig.ErrorType {
			out = append(out, other.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns all signatures, optionally filtered by status.
func (m *Memory) List(_ context.Context, status models.Status) ([]*models.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Signature
	for _, sig := range m.byID {
		if status != "" && sig.Status != status {
			continue
		}
		out = append(out, sig.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out, nil
}

// GetStats returns a rollup of the stored signatures.
func (m *Memory) GetStats(_ context.Context) (*models.StoreStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.StoreStats{
		ByStatus:  make(map[models.Status]int),
		ByService: make(map[string]int),
	}

	var totalOccurrences int
	var oldest time.Time
	for _, sig := range m.byID {
		stats.TotalSignatures++
		stats.ByStatus[sig.Status]++
		stats.ByService[sig.Service]++
		totalOccurrences += sig.OccurrenceCount
		if oldest.IsZero() || sig.FirstSeen.Before(oldest) {
			oldest = sig.FirstSeen
		}
	}

	if stats.TotalSignatures > 0 {
		stats.AvgOccurrenceCount = float64(totalOccurrences) / float64(stats.TotalSignatures)
		stats.OldestSignatureAgeHours = m.nowFn().Sub(oldest).Hours()
	}
	stats.TotalErrorsSeen = totalOccurrences
	return stats, nil
}
