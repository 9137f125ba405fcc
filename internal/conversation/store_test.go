package conversation

import (
	"testing"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(nil, append([]Option{WithSweepInterval(0)}, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func TestGetHistory_UnknownIDIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got := s.GetHistory("missing")
	if got == nil || len(got) != 0 {
		t.Errorf("GetHistory(missing) = %#v, want empty non-nil slice", got)
	}
}

func TestAddMessage_UnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.AddMessage("missing", llm.UserText("hi"))
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("AddMessage(missing) error = %v, want not_found", err)
	}
	if err := s.ClearHistory("missing"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("ClearHistory(missing) error = %v, want not_found", err)
	}
}

func TestGetHistory_IsDefensiveCopy(t *testing.T) {
	s := newTestStore(t)
	id := s.Create(nil)
	s.AddMessage(id, llm.Message{Role: llm.RoleAssistant, Blocks: []llm.ContentBlock{
		llm.ToolUseBlock("t1", "get_page", map[string]any{"id": 1.0}),
	}})

	h := s.GetHistory(id)
	h[0].Blocks[0].Input["id"] = 99.0

	fresh := s.GetHistory(id)
	if len(fresh) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(fresh))
	}
	if fresh[0].Blocks[0].Input["id"] != 1.0 {
		t.Error("mutating a returned history leaked into the store")
	}
}

func TestWriteBack_ClearThenAdd(t *testing.T) {
	s := newTestStore(t)
	id := s.Create(map[string]any{"post_id": "42"})
	s.AddMessages(id, []llm.Message{llm.UserText("one"), {Role: llm.RoleAssistant, Text: "two"}})

	snapshot := s.GetHistory(id)
	snapshot = append(snapshot,
		llm.UserText("three"),
		llm.Message{Role: llm.RoleAssistant, Text: "four"},
		llm.UserText("five"),
	)

	if err := s.ClearHistory(id); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessages(id, snapshot); err != nil {
		t.Fatal(err)
	}

	got := s.GetHistory(id)
	if len(got) != 5 {
		t.Fatalf("len(history) = %d, want 5", len(got))
	}
	for i, want := range []string{"one", "two", "three", "four", "five"} {
		if got[i].PlainText() != want {
			t.Errorf("history[%d] = %q, want %q", i, got[i].PlainText(), want)
		}
	}

	conv, ok := s.Get(id)
	if !ok || conv.Metadata["post_id"] != "42" {
		t.Errorf("metadata lost across clear: %+v", conv)
	}
}

func TestUpdateMetadata(t *testing.T) {
	s := newTestStore(t)
	id := s.Create(map[string]any{"post_id": "1"})
	if err := s.UpdateMetadata(id, map[string]any{"post_id": "2", "post_type": "page"}); err != nil {
		t.Fatal(err)
	}
	conv, _ := s.Get(id)
	if conv.Metadata["post_id"] != "2" || conv.Metadata["post_type"] != "page" {
		t.Errorf("Metadata = %v", conv.Metadata)
	}
	if err := s.UpdateMetadata("missing", nil); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("UpdateMetadata(missing) error = %v, want not_found", err)
	}
}

func TestSweep_ReclaimsIdle(t *testing.T) {
	s := newTestStore(t, WithIdleTimeout(24*time.Hour))
	now := time.Now()
	s.now = func() time.Time { return now.Add(-25 * time.Hour) }
	stale := s.Create(nil)
	s.now = func() time.Time { return now }
	fresh := s.Create(nil)

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if s.Exists(stale) {
		t.Error("idle conversation survived sweep")
	}
	if !s.Exists(fresh) {
		t.Error("active conversation was swept")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	id := s.Create(nil)
	if !s.Delete(id) {
		t.Error("Delete(existing) = false")
	}
	if s.Delete(id) {
		t.Error("Delete(deleted) = true")
	}
}
