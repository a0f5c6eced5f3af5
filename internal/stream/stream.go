// Package stream fans committed ledger transactions out to live subscribers
// (the teller dashboard's SSE feed). Delivery is best-effort; slow consumers
// drop events rather than blocking the ledger.
package stream

import (
	"context"
	"sync"
	"time"
)

// TransactionEvent describes one committed transaction for live consumers.
type TransactionEvent struct {
	Reference    string    `json:"reference"`
	AccountID    string    `json:"account_id"`
	Type         string    `json:"transaction_type"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs transaction events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan TransactionEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan TransactionEvent)}
}

// Subscribe registers a consumer channel that is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan TransactionEvent {
	ch := make(chan TransactionEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (s *Stream) Publish(event TransactionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
