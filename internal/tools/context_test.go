package tools

import (
	"context"
	"testing"
)

func TestConversationIDFromContext(t *testing.T) {
	if got := ConversationIDFromContext(context.Background()); got != "" {
		t.Errorf("unset = %q, want empty", got)
	}
	ctx := WithConversationID(context.Background(), "conv-123")
	if got := ConversationIDFromContext(ctx); got != "conv-123" {
		t.Errorf("ConversationIDFromContext() = %q, want conv-123", got)
	}
}

func TestDocumentIDFromContext(t *testing.T) {
	ctx := WithDocumentID(context.Background(), "")
	if got := DocumentIDFromContext(ctx); got != "" {
		t.Errorf("empty id stored: %q", got)
	}
	ctx = WithDocumentID(ctx, "42")
	if got := DocumentIDFromContext(ctx); got != "42" {
		t.Errorf("DocumentIDFromContext() = %q, want 42", got)
	}
}

func TestCommandSink(t *testing.T) {
	if CommandSinkFromContext(context.Background()) != nil {
		t.Error("unset sink should be nil")
	}
	var got map[string]any
	ctx := WithCommandSink(context.Background(), func(cmd map[string]any) { got = cmd })
	CommandSinkFromContext(ctx)(map[string]any{"action": "insert_block"})
	if got["action"] != "insert_block" {
		t.Errorf("sink received %v", got)
	}
}
