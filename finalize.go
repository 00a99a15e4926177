package goOTP

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// finalizeTicket holds what is needed to repeat the identity write of an
// already consumed challenge.
type finalizeTicket struct {
	purpose   Purpose
	subject   string
	reg       *Registration
	secret    string
	expiresAt time.Time
}

// finalizeLedger is a bounded, process-local map of retry tickets.
type finalizeLedger struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	now   func() time.Time
	items map[string]finalizeTicket
}

func newFinalizeLedger(cfg FinalizeConfig, now func() time.Time) *finalizeLedger {
	if cfg.TicketTTL <= 0 {
		return nil
	}
	return &finalizeLedger{
		ttl:   cfg.TicketTTL,
		max:   cfg.MaxTickets,
		now:   now,
		items: make(map[string]finalizeTicket),
	}
}

// park stores t and returns its ticket ID, or "" when tickets are disabled
// or the ledger is full.
func (l *finalizeLedger) park(t finalizeTicket) string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purgeLocked(now)
	if len(l.items) >= l.max {
		return ""
	}

	id := uuid.NewString()
	t.expiresAt = now.Add(l.ttl)
	t.reg = t.reg.clone()
	l.items[id] = t
	return id
}

// take removes and returns a live ticket.
func (l *finalizeLedger) take(id string) (finalizeTicket, bool) {
	if l == nil || id == "" {
		return finalizeTicket{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.items[id]
	if !ok {
		return finalizeTicket{}, false
	}
	delete(l.items, id)
	if l.now().After(t.expiresAt) {
		return finalizeTicket{}, false
	}
	return t, true
}

// restore puts a taken ticket back under the same ID with its original deadline.
func (l *finalizeLedger) restore(id string, t finalizeTicket) bool {
	if l == nil || id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().After(t.expiresAt) {
		return false
	}
	l.items[id] = t
	return true
}

func (l *finalizeLedger) purgeLocked(now time.Time) {
	for id, t := range l.items {
		if now.After(t.expiresAt) {
			delete(l.items, id)
		}
	}
}

func (l *finalizeLedger) len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
