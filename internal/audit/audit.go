// Package audit records every state-changing operation as an append-only
// trail. The trail is diagnostic: it never fails or rolls back the business
// mutation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cajards.org/internal/ids"
)

// Entry is one audit record with before/after snapshots of the touched entity.
type Entry struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldData    json.RawMessage `json:"old_data,omitempty"`
	NewData    json.RawMessage `json:"new_data,omitempty"`
	Origin     string          `json:"origin"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store persists audit entries. Append is pure insert, no validation.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, limit, offset int) ([]Entry, error)
}

// MemoryStore keeps entries in process, newest appended last.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// List returns entries newest-first.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	for i := len(s.entries) - 1 - offset; i >= 0 && len(res) < limit; i-- {
		res = append(res, s.entries[i])
	}
	return res, nil
}

// NewEntry builds an entry with marshalled snapshots. Snapshot marshalling is
// best-effort; a value that cannot be marshalled is dropped from the entry.
func NewEntry(actor, action, entityType, entityID string, oldValue, newValue any, origin string) Entry {
	e := Entry{
		ID:         ids.New(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Origin:     origin,
		CreatedAt:  time.Now().UTC(),
	}
	if oldValue != nil {
		if data, err := json.Marshal(oldValue); err == nil {
			e.OldData = data
		}
	}
	if newValue != nil {
		if data, err := json.Marshal(newValue); err == nil {
			e.NewData = data
		}
	}
	return e
}
