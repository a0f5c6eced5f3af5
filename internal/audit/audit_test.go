package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := NewEntry("actor", fmt.Sprintf("action-%d", i), "member", "m1", nil, nil, "127.0.0.1")
		if err := s.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Action != "action-4" || entries[2].Action != "action-2" {
		t.Fatalf("not newest-first: %s .. %s", entries[0].Action, entries[2].Action)
	}

	paged, _ := s.List(ctx, 3, 3)
	if len(paged) != 2 || paged[0].Action != "action-1" {
		t.Fatalf("offset page wrong: %+v", paged)
	}
}

func TestNewEntrySnapshots(t *testing.T) {
	old := map[string]any{"balance": "600.00"}
	e := NewEntry("teller-1", "transaction.apply", "transaction", "t1", old, nil, "10.0.0.1")

	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("entry missing identity: %+v", e)
	}
	if string(e.OldData) != `{"balance":"600.00"}` {
		t.Fatalf("old snapshot = %s", e.OldData)
	}
	if e.NewData != nil {
		t.Fatalf("nil new value must stay empty, got %s", e.NewData)
	}

	// Unmarshallable snapshots are dropped, never fatal.
	bad := NewEntry("teller-1", "x", "y", "z", func() {}, nil, "")
	if bad.OldData != nil {
		t.Fatalf("unmarshallable snapshot kept: %s", bad.OldData)
	}
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, e Entry) error { return errors.New("disk full") }
func (failingStore) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	return nil, nil
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	r := NewRecorder(failingStore{})
	// Must not panic or propagate: the business mutation already committed.
	r.Record(context.Background(), "teller-1", "member.create", "member", "m1", nil, map[string]string{"id": "m1"}, "")
}

func TestRecorderRoundTrip(t *testing.T) {
	r := NewRecorder(NewMemoryStore())
	ctx := WithRequestID(context.Background(), "req-123")

	r.Record(ctx, "admin-1", "account.block", "account", "a1",
		map[string]bool{"blocked": false}, map[string]bool{"blocked": true}, "10.0.0.9")

	entries, err := r.List(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != "account.block" || e.ActorID != "admin-1" || e.Origin != "10.0.0.9" {
		t.Fatalf("entry = %+v", e)
	}
	if string(e.OldData) != `{"blocked":false}` || string(e.NewData) != `{"blocked":true}` {
		t.Fatalf("snapshots: old=%s new=%s", e.OldData, e.NewData)
	}
}
