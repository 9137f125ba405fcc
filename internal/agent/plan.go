package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/prompts"
)

// Plan task statuses.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// PlanTask is one advisory step.
type PlanTask struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

// Plan is an advisory task list surfaced to the caller before the loop
// runs. It is never persisted.
type Plan struct {
	Tasks []PlanTask `json:"tasks"`
}

// PlanPolicy decides whether a message warrants a plan.
type PlanPolicy func(message string) bool

// planKeywords mark requests that usually span several tool rounds.
var planKeywords = []string{
	"create a page", "build a page", "landing page", "redesign", "restructure",
	"several pages", "multiple pages", "site structure", "whole site", "step by step",
	"and then", "migrate", "template",
	"créer une page", "refaire", "plusieurs pages", "étape par étape", "puis",
}

// planMinLength is the length past which a request is planned
// regardless of wording.
const planMinLength = 400

// DefaultNeedsPlan is a keyword and length heuristic.
func DefaultNeedsPlan(message string) bool {
	if len(message) >= planMinLength {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range planKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// GeneratePlan asks the model for a task list. No tools are offered.
func GeneratePlan(ctx context.Context, gw ModelGateway, message string, maxTokens int) (*Plan, llm.Usage, error) {
	resp, err := gw.SendMessage(ctx, prompts.PlanSystem,
		[]llm.Message{llm.UserText(prompts.PlanPrompt(message))}, nil, maxTokens, false)
	if err != nil {
		return nil, llm.Usage{}, err
	}
	labels := parsePlanLabels(llm.ExtractText(resp))
	if len(labels) == 0 {
		return nil, resp.Usage, fmt.Errorf("model returned no plan steps")
	}
	plan := &Plan{Tasks: make([]PlanTask, len(labels))}
	for i, l := range labels {
		plan.Tasks[i] = PlanTask{ID: fmt.Sprintf("task-%d", i+1), Label: l, Status: TaskPending}
	}
	return plan, resp.Usage, nil
}

// parsePlanLabels reads a JSON string array from text, falling back to
// one step per non-empty line with list markers removed.
func parsePlanLabels(text string) []string {
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		var labels []string
		if json.Unmarshal([]byte(text[start:end+1]), &labels) == nil {
			return compact(labels)
		}
	}
	var labels []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		labels = append(labels, line)
	}
	return compact(labels)
}

func compact(labels []string) []string {
	out := labels[:0]
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
