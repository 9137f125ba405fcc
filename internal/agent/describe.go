package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// DocumentDescriber summarizes the current state of a document for
// injection into a conversation.
type DocumentDescriber interface {
	DescribeDocument(ctx context.Context, documentID string) (string, error)
}

// CompositeDescriber combines several describers. Each describer's
// output is joined with a blank line; failing describers are skipped.
type CompositeDescriber struct {
	describers []DocumentDescriber
}

// NewCompositeDescriber creates a composite from describers.
func NewCompositeDescriber(describers ...DocumentDescriber) *CompositeDescriber {
	return &CompositeDescriber{describers: describers}
}

// Add appends a describer to the composite.
func (c *CompositeDescriber) Add(d DocumentDescriber) {
	if d != nil {
		c.describers = append(c.describers, d)
	}
}

// DescribeDocument calls every describer and combines their output. It
// returns the last error only when no describer produced anything.
func (c *CompositeDescriber) DescribeDocument(ctx context.Context, documentID string) (string, error) {
	var (
		parts   []string
		lastErr error
	)
	for _, d := range c.describers {
		content, err := d.DescribeDocument(ctx, documentID)
		if err != nil {
			lastErr = err
			continue
		}
		if content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 && lastErr != nil {
		return "", lastErr
	}
	return strings.Join(parts, "\n\n"), nil
}

// documentIDKeys are the context keys that may name the open document,
// in order of preference.
var documentIDKeys = []string{"document_id", "post_id", "postId", "id"}

// DocumentIDFromContext returns the document id named by a caller's
// context map, or "".
func DocumentIDFromContext(c map[string]any) string {
	for _, k := range documentIDKeys {
		switch v := c[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v > 0 {
				return strconv.FormatInt(int64(v), 10)
			}
		case int:
			if v > 0 {
				return strconv.Itoa(v)
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// rawContext renders the caller's context map as the fallback
// description.
func rawContext(c map[string]any) string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
