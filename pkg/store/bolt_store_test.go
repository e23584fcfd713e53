package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newBoltStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltHistoryOrderAndSymmetry(t *testing.T) {
	s := newBoltStore(t, filepath.Join(t.TempDir(), "messages.db"))
	ctx := context.Background()
	for _, m := range []struct{ from, to, content string }{
		{"alice", "bob", "one"},
		{"bob", "alice", "two"},
		{"alice", "carol", "unrelated"},
		{"alice", "bob", "three"},
	} {
		if _, err := s.AppendMessage(ctx, m.from, m.to, m.content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	ab, err := s.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(ab) != len(want) {
		t.Fatalf("history len = %d, want %d", len(ab), len(want))
	}
	for i, m := range ab {
		if m.Content != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, m.Content, want[i])
		}
		if i > 0 && !m.Timestamp.After(ab[i-1].Timestamp) {
			t.Fatalf("history not ascending at %d", i)
		}
	}

	ba, err := s.History(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(ba) != len(ab) {
		t.Fatalf("history is not symmetric: %d vs %d", len(ab), len(ba))
	}
	for i := range ab {
		if ab[i].ID != ba[i].ID || !ab[i].Timestamp.Equal(ba[i].Timestamp) {
			t.Fatalf("history is not symmetric at %d: %+v vs %+v", i, ab[i], ba[i])
		}
	}

	empty, err := s.History(ctx, "nobody", "else")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestBoltConversationsOrderedByRecency(t *testing.T) {
	s := newBoltStore(t, filepath.Join(t.TempDir(), "messages.db"))
	ctx := context.Background()
	if _, err := s.AppendMessage(ctx, "alice", "bob", "hi bob"); err != nil {
		t.Fatalf("append: %v", err)
	}
	last, err := s.AppendMessage(ctx, "carol", "alice", "hi alice")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "alice", "alice", "note to self"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Conversations(ctx, "alice")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("conversations = %+v, want 3 entries", got)
	}
	order := []string{got[0].Counterpart, got[1].Counterpart, got[2].Counterpart}
	if order[0] != "alice" || order[1] != "carol" || order[2] != "bob" {
		t.Fatalf("conversation order = %v", order)
	}
	if !got[1].LastActivity.Equal(last.Timestamp) {
		t.Fatalf("carol last activity = %v, want %v", got[1].LastActivity, last.Timestamp)
	}

	none, err := s.Conversations(ctx, "dave")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}
}

func TestBoltReopenKeepsMessagesAndClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.db")
	ctx := context.Background()

	first, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	before, err := first.AppendMessage(ctx, "alice", "bob", "before restart")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newBoltStore(t, path)
	second.clock.now = func() time.Time { return before.Timestamp.Add(-time.Hour) }
	after, err := second.AppendMessage(ctx, "bob", "alice", "after restart")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if after.ID <= before.ID {
		t.Fatalf("id went backwards: %d then %d", before.ID, after.ID)
	}
	if !after.Timestamp.After(before.Timestamp) {
		t.Fatalf("timestamp went backwards: %v then %v", before.Timestamp, after.Timestamp)
	}

	msgs, err := second.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "before restart" || msgs[1].Content != "after restart" {
		t.Fatalf("history after reopen = %+v", msgs)
	}
}

func TestBoltAppendHonoursCancelledContext(t *testing.T) {
	s := newBoltStore(t, filepath.Join(t.TempDir(), "messages.db"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.AppendMessage(ctx, "alice", "bob", "late"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
