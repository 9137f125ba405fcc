package tools

import "context"

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	documentIDKey     contextKey = "document_id"
	commandSinkKey    contextKey = "command_sink"
)

// CommandSink receives deferred commands as they are issued so a
// streaming client can apply them before the reply is awaited.
type CommandSink func(command map[string]any)

// WithConversationID adds the conversation ID to the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationIDFromContext extracts the conversation ID from the
// context, or "" if unset.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// WithDocumentID records the document (post ID) being edited so editor
// commands can be routed to the right session.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, documentIDKey, id)
}

// DocumentIDFromContext returns the document being edited, or "".
func DocumentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(documentIDKey).(string)
	return id
}

// WithCommandSink installs sink for deferred commands. A nil sink
// returns ctx unchanged.
func WithCommandSink(ctx context.Context, sink CommandSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, commandSinkKey, sink)
}

// CommandSinkFromContext returns the installed sink, or nil.
func CommandSinkFromContext(ctx context.Context) CommandSink {
	sink, _ := ctx.Value(commandSinkKey).(CommandSink)
	return sink
}
