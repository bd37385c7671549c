package daemon

import (
	"sync"
	"time"
)

// BudgetLedger tracks diagnosis spend for the current UTC day. The
// ledger resets itself on the first touch after midnight; no background
// timer is involved.
type BudgetLedger struct {
	mu    sync.Mutex
	date  string
	spent float64
	nowFn func() time.Time
}

// NewBudgetLedger creates an empty ledger.
func NewBudgetLedger() *BudgetLedger {
	return &BudgetLedger{nowFn: time.Now}
}

// SetNowFunc overrides the clock. Tests only.
func (l *BudgetLedger) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFn = fn
}

// rollLocked resets the ledger when the UTC date has changed. Callers
// hold l.mu.
func (l *BudgetLedger) rollLocked() {
	today := l.nowFn().UTC().Format("2006-01-02")
	if l.date != today {
		l.date = today
		l.spent = 0
	}
}

// RecordDiagnosisCost adds one diagnosis cost to today's spend.
func (l *BudgetLedger) RecordDiagnosisCost(usd float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.spent += usd
}

// SpentToday returns the spend accumulated for the current UTC day.
func (l *BudgetLedger) SpentToday() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.spent
}
