// Package ledger holds the process-wide failure audit trail and the alert
// batcher that periodically drains it.
package ledger

import (
	"sync"

	"github.com/kubemendstack/kubemend/internal/models"
)

// Ledger is an append-only accumulator of FailureRecords with an atomic
// drain. Many goroutines append; a single batcher drains. Drain-then-clear
// happens under the same lock as appends, so no record is lost or
// duplicated across flushes.
type Ledger struct {
	mu      sync.Mutex
	records []models.FailureRecord
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append adds one record to the ledger.
func (l *Ledger) Append(record models.FailureRecord) {
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
}

// Drain atomically takes the current contents and resets the ledger.
func (l *Ledger) Drain() []models.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	drained := l.records
	l.records = nil
	return drained
}

// Len reports the number of pending records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
