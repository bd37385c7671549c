// Package triage holds the pure decision logic that maps signatures and
// diagnoses to {investigate?, notify?, priority}. It never performs I/O
// and never fails.
package triage

import (
	"time"

	"github.com/tracehound/tracehound/internal/models"
)

// Config tunes the triage decisions.
type Config struct {
	MinOccurrenceForInvestigation int
	InvestigationCooldown         time.Duration
	// HighConfidenceThreshold is the confidence level at or above which a
	// diagnosis always notifies, regardless of status or tags.
	HighConfidenceThreshold models.Confidence
}

// DefaultConfig returns the default triage configuration.
func DefaultConfig() Config {
	return Config{
		MinOccurrenceForInvestigation: 3,
		InvestigationCooldown:         24 * time.Hour,
		HighConfidenceThreshold:       models.ConfidenceHigh,
	}
}

// Engine evaluates triage decisions against a config and a clock.
type Engine struct {
	cfg   Config
	nowFn func() time.Time
}

// New creates an engine with the given config.
func New(cfg Config) *Engine {
	if cfg.MinOccurrenceForInvestigation <= 0 {
		cfg.MinOccurrenceForInvestigation = 3
	}
	if cfg.InvestigationCooldown <= 0 {
		cfg.InvestigationCooldown = 24 * time.Hour
	}
	if cfg.HighConfidenceThreshold == "" {
		cfg.HighConfidenceThreshold = models.ConfidenceHigh
	}
	return &Engine{cfg: cfg, nowFn: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	e.nowFn = fn
}

// ShouldInvestigate reports whether a signature currently qualifies for
// investigation.
func (e *Engine) ShouldInvestigate(sig *models.Signature) bool {
	if sig.Status == models.StatusResolved || sig.Status == models.StatusMuted {
		return false
	}
	if sig.Diagnosis != nil && e.nowFn().Sub(sig.Diagnosis.DiagnosedAt) < e.cfg.InvestigationCooldown {
		return false
	}
	if sig.OccurrenceCount < e.cfg.MinOccurrenceForInvestigation {
		return false
	}
	return true
}

// confidenceRank orders confidence levels for threshold comparisons.
var confidenceRank = map[models.Confidence]int{
	models.ConfidenceLow:    1,
	models.ConfidenceMedium: 2,
	models.ConfidenceHigh:   3,
}

// ShouldNotify reports whether a fresh diagnosis warrants a human
// notification. Confidence at or above the configured threshold always
// notifies. originalStatus is the signature's status before the
// investigation started; pass "" to use the current status.
func (e *Engine) ShouldNotify(sig *models.Signature, diag *models.Diagnosis, originalStatus models.Status) bool {
	if confidenceRank[diag.Confidence] >= confidenceRank[e.cfg.HighConfidenceThreshold] {
		return true
	}
	status := originalStatus
	if status == "" {
		status = sig.Status
	}
	if status == models.StatusNew && diag.Confidence == models.ConfidenceMedium {
		return true
	}
	if sig.HasTag(models.TagCritical) {
		return true
	}
	return false
}

// CalculatePriority scores a signature for investigation ordering; higher
// runs sooner. Frequency is capped at 100 so a single noisy signature
// cannot drown the queue, recency is worth half of max frequency, and the
// novelty bonus matches recency so a brand-new error beats a stale one.
// Priorities are signed: flaky-test can push a score below zero.
func (e *Engine) CalculatePriority(sig *models.Signature) int {
	priority := sig.OccurrenceCount
	if priority > 100 {
		priority = 100
	}

	age := e.nowFn().Sub(sig.LastSeen)
	switch {
	case age <= time.Hour:
		priority += 50
	case age <= 24*time.Hour:
		priority += 25
	}

	if sig.Status == models.StatusNew {
		priority += 50
	}
	if sig.HasTag(models.TagCritical) {
		priority += 100
	}
	if sig.HasTag(models.TagFlakyTest) {
		priority -= 20
	}
	return priority
}
