// Package models defines the entities shared across tracehound: error
// events, signatures, diagnoses, trace trees, and cycle results.
package models

import (
	"fmt"
	"time"
)

// Severity is the level attached to an error event or log entry.
type Severity string

const (
	SeverityTrace Severity = "TRACE"
	SeverityDebug Severity = "DEBUG"
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
	SeverityFatal Severity = "FATAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityFatal:
		return true
	}
	return false
}

// Status is the lifecycle state of a signature.
type Status string

const (
	StatusNew           Status = "new"
	StatusInvestigating Status = "investigating"
	StatusDiagnosed     Status = "diagnosed"
	StatusResolved      Status = "resolved"
	StatusMuted         Status = "muted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusDiagnosed, StatusResolved, StatusMuted:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q", raw)
	}
	return s, nil
}

// Confidence expresses how sure the model is about a diagnosis.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// StackFrame is one frame of a captured stack. Lineno is preserved for
// display but ignored by fingerprinting.
type StackFrame struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Filename string `json:"filename"`
	Lineno   int    `json:"lineno,omitempty"`
}

// ErrorEvent is one raw error occurrence harvested from telemetry.
type ErrorEvent struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	Service      string         `json:"service"`
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	Stack        []StackFrame   `json:"stack,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Severity     Severity       `json:"severity"`
}

// Diagnosis is the result of one successful investigation.
type Diagnosis struct {
	RootCause    string     `json:"root_cause"`
	Evidence     []string   `json:"evidence"`
	SuggestedFix string     `json:"suggested_fix"`
	Confidence   Confidence `json:"confidence"`
	DiagnosedAt  time.Time  `json:"diagnosed_at"`
	Model        string     `json:"model"`
	CostUSD      float64    `json:"cost_usd"`
}

// Validate checks the diagnosis invariants.
func (d *Diagnosis) Validate() error {
	if d.RootCause == "" {
		return fmt.Errorf("diagnosis root_cause is empty")
	}
	if len(d.Evidence) == 0 {
		return fmt.Errorf("diagnosis evidence is empty")
	}
	if d.SuggestedFix == "" {
		return fmt.Errorf("diagnosis suggested_fix is empty")
	}
	if !d.Confidence.Valid() {
		return fmt.Errorf("invalid confidence %q", d.Confidence)
	}
	if d.CostUSD < 0 {
		return fmt.Errorf("diagnosis cost_usd is negative")
	}
	return nil
}

// Signature is a fingerprinted class of errors, not a single occurrence.
type Signature struct {
	ID              string     `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	StackHash       string     `json:"stack_hash"`
	ErrorType       string     `json:"error_type"`
	Service         string     `json:"service"`
	MessageTemplate string     `json:"message_template"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	OccurrenceCount int        `json:"occurrence_count"`
	Status          Status     `json:"status"`
	Diagnosis       *Diagnosis `json:"diagnosis,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// Validate checks the signature invariants. Called on construction and
// before every store write.
func (s *Signature) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("signature id is empty")
	}
	if s.Fingerprint == "" {
		return fmt.Errorf("signature fingerprint is empty")
	}
	if s.OccurrenceCount < 1 {
		return fmt.Errorf("occurrence_count %d < 1", s.OccurrenceCount)
	}
	if s.LastSeen.Before(s.FirstSeen) {
		return fmt.Errorf("last_seen %s before first_seen %s", s.LastSeen.Format(time.RFC3339), s.FirstSeen.Format(time.RFC3339))
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if s.Diagnosis != nil {
		if err := s.Diagnosis.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// HasTag reports whether the signature carries the given tag.
func (s *Signature) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's view.
func (s *Signature) Clone() *Signature {
	out := *s
	if s.Diagnosis != nil {
		d := *s.Diagnosis
		d.Evidence = append([]string(nil), s.Diagnosis.Evidence...)
		out.Diagnosis = &d
	}
	out.Tags = append([]string(nil), s.Tags...)
	return &out
}

// SpanStatus is the outcome of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
	SpanStatusUnset SpanStatus = "unset"
)

// SpanNode is one span in a trace tree. Children own their subtrees;
// parents are referenced by id only.
type SpanNode struct {
	SpanID     string         `json:"span_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Service    string         `json:"service"`
	Operation  string         `json:"operation"`
	DurationMS float64        `json:"duration_ms"`
	Status     SpanStatus     `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Children   []*SpanNode    `json:"children,omitempty"`
}

// TraceTree is a full trace addressed by trace id.
type TraceTree struct {
	TraceID string      `json:"trace_id"`
	Roots   []*SpanNode `json:"roots"`
}

// ErrorSpans returns the flat list of spans with error status, in
// depth-first order.
func (t *TraceTree) ErrorSpans() []*SpanNode {
	var out []*SpanNode
	var walk func(n *SpanNode)
	walk = func(n *SpanNode) {
		if n.Status == SpanStatusError {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range t.Roots {
		walk(r)
	}
	return out
}

// LogEntry is one log line correlated to a trace.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Severity   Severity       `json:"severity"`
	Body       string         `json:"body"`
	Attributes map[string]any `json:"attributes,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// InvestigationContext is the bundle handed to the diagnoser for one
// signature.
type InvestigationContext struct {
	Signature         *Signature   `json:"signature"`
	RecentEvents      []ErrorEvent `json:"recent_events,omitempty"`
	Traces            []*TraceTree `json:"traces,omitempty"`
	CorrelatedLogs    []LogEntry   `json:"correlated_logs,omitempty"`
	CodebasePath      string       `json:"codebase_path,omitempty"`
	HistoricalContext []*Signature `json:"historical_context,omitempty"`
}

// PollResult summarizes one poll cycle.
type PollResult struct {
	ErrorsFound          int       `json:"errors_found"`
	NewSignatures        int       `json:"new_signatures"`
	UpdatedSignatures    int       `json:"updated_signatures"`
	InvestigationsQueued int       `json:"investigations_queued"`
	Timestamp            time.Time `json:"timestamp"`
}

// InvestigationResult summarizes one investigation cycle.
type InvestigationResult struct {
	InvestigationsAttempted int         `json:"investigations_attempted"`
	InvestigationsFailed    int         `json:"investigations_failed"`
	DiagnosesProduced       []Diagnosis `json:"diagnoses_produced,omitempty"`
	Timestamp               time.Time   `json:"timestamp"`
}

// StoreStats is the rollup returned by the signature store.
type StoreStats struct {
	TotalSignatures         int            `json:"total_signatures"`
	ByStatus                map[Status]int `json:"by_status"`
	ByService               map[string]int `json:"by_service"`
	OldestSignatureAgeHours float64        `json:"oldest_signature_age_hours"`
	AvgOccurrenceCount      float64        `json:"avg_occurrence_count"`
	TotalErrorsSeen         int            `json:"total_errors_seen"`
}

// SignatureDetails is the bundle returned by the management details op.
type SignatureDetails struct {
	Signature    *Signature   `json:"signature"`
	RecentEvents []ErrorEvent `json:"recent_events,omitempty"`
	Related      []*Signature `json:"related_signatures,omitempty"`
	Diagnosis    *Diagnosis   `json:"diagnosis,omitempty"`
}

// TagCritical and TagFlakyTest are the domain marker tags triage keys on.
const (
	TagCritical  = "critical"
	TagFlakyTest = "flaky-test"
)
