// Package llm is the model gateway: message and content-block types,
// the provider interface, and the Anthropic Messages API client.
package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText             = "text"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// Stop reasons reported by the provider.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one typed element of a message. Which fields are
// meaningful depends on Type.
type ContentBlock struct {
	Type string

	// text
	Text string

	// tool_use
	ID    string
	Name  string
	Input map[string]any

	// tool_result
	ToolUseID string
	Content   string
	IsError   bool

	// thinking / redacted_thinking
	Thinking  string
	Signature string
	Data      string
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool invocation block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns the answer to the tool_use block with the given id.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  *string         `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
}

// MarshalJSON emits the provider wire shape for the block's type.
// tool_use always carries an input object, even when empty.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: b.Type}
	switch b.Type {
	case BlockText:
		w.Text = &b.Text
	case BlockToolUse:
		w.ID, w.Name = b.ID, b.Name
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal tool input: %w", err)
		}
		w.Input = raw
	case BlockToolResult:
		w.ToolUseID, w.IsError = b.ToolUseID, b.IsError
		raw, _ := json.Marshal(b.Content)
		w.Content = raw
	case BlockThinking:
		w.Thinking = &b.Thinking
		w.Signature = b.Signature
	case BlockRedactedThinking:
		w.Data = b.Data
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the provider wire shape. A tool_result whose
// content is an array of text blocks is flattened to a string.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = ContentBlock{
		Type:      w.Type,
		ID:        w.ID,
		Name:      w.Name,
		ToolUseID: w.ToolUseID,
		IsError:   w.IsError,
		Signature: w.Signature,
		Data:      w.Data,
	}
	if w.Text != nil {
		b.Text = *w.Text
	}
	if w.Thinking != nil {
		b.Thinking = *w.Thinking
	}
	if len(w.Input) > 0 {
		if err := json.Unmarshal(w.Input, &b.Input); err != nil {
			return fmt.Errorf("decode tool input: %w", err)
		}
	}
	if len(w.Content) > 0 {
		var s string
		if err := json.Unmarshal(w.Content, &s); err == nil {
			b.Content = s
		} else {
			var parts []ContentBlock
			if err := json.Unmarshal(w.Content, &parts); err != nil {
				return fmt.Errorf("decode tool_result content: %w", err)
			}
			var sb strings.Builder
			for _, p := range parts {
				sb.WriteString(p.Text)
			}
			b.Content = sb.String()
		}
	}
	return nil
}

func (b ContentBlock) clone() ContentBlock {
	if b.Input != nil {
		b.Input = cloneMap(b.Input)
	}
	return b
}

// cloneMap deep-copies nested maps and slices produced by JSON decoding.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Message is one conversation turn. Content is either plain Text or a
// sequence of Blocks; when Blocks is non-empty Text is ignored.
type Message struct {
	Role   string
	Text   string
	Blocks []ContentBlock
}

// UserText returns a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Blocks != nil {
		blocks := make([]ContentBlock, len(m.Blocks))
		for i, b := range m.Blocks {
			blocks[i] = b.clone()
		}
		m.Blocks = blocks
	}
	return m
}

// ContentBlocks returns the message as blocks, promoting plain text to a
// single text block.
func (m Message) ContentBlocks() []ContentBlock {
	if len(m.Blocks) > 0 {
		return m.Blocks
	}
	if m.Text == "" {
		return nil
	}
	return []ContentBlock{TextBlock(m.Text)}
}

// PlainText concatenates the text of every text block, or returns Text
// for plain messages.
func (m Message) PlainText() string {
	if len(m.Blocks) == 0 {
		return m.Text
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if len(m.Blocks) > 0 {
		content, err = json.Marshal(m.Blocks)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Role: w.Role}
	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}
	if w.Content[0] == '"' {
		return json.Unmarshal(w.Content, &m.Text)
	}
	return json.Unmarshal(w.Content, &m.Blocks)
}

// CloneHistory deep-copies a message slice. The result is never nil.
func CloneHistory(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Usage counts tokens consumed by one or more calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is a single model reply.
type Response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// AssistantMessage returns the reply as an assistant message, content
// preserved verbatim (thinking blocks included) so the next request can
// replay it.
func (r *Response) AssistantMessage() Message {
	blocks := make([]ContentBlock, len(r.Content))
	for i, b := range r.Content {
		blocks[i] = b.clone()
	}
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ExtractToolCalls returns the tool invocations in resp, in order. It is
// empty unless the model stopped to use tools.
func ExtractToolCalls(resp *Response) []ToolCall {
	if resp == nil || resp.StopReason != StopToolUse {
		return nil
	}
	var calls []ToolCall
	for _, b := range resp.Content {
		if b.Type != BlockToolUse {
			continue
		}
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Input: maps.Clone(input)})
	}
	return calls
}

// ExtractText concatenates the text blocks of resp in arrival order.
func ExtractText(resp *Response) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
