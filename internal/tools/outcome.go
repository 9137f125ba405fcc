package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Outcome is the result of a tool handler. It is either [Immediate],
// a value available now, or [Deferred], a command sent to a remote
// party whose reply arrives later.
type Outcome interface {
	outcome()
}

// Immediate is a result available as soon as the handler returns.
type Immediate struct {
	Value any
}

// Deferred is a command awaiting an out-of-band reply. Command is the
// payload forwarded to the streaming client; Future settles when the
// reply arrives or the wait times out.
type Deferred struct {
	Command map[string]any
	Future  Awaitable
}

func (Immediate) outcome() {}
func (Deferred) outcome()  {}

// Awaitable is the pending reply to a deferred command.
type Awaitable interface {
	ID() string
	Wait(ctx context.Context) (any, error)
}

// Value wraps v as an Immediate outcome.
func Value(v any) Outcome {
	return Immediate{Value: v}
}

// Text wraps a formatted string as an Immediate outcome.
func Text(format string, args ...any) Outcome {
	return Immediate{Value: fmt.Sprintf(format, args...)}
}

// Render converts a result value into tool_result text. Strings pass
// through; everything else is JSON-encoded.
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
