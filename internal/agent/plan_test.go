package agent

import (
	"errors"
	"strings"
	"testing"

	"github.com/nugget/blockwright/internal/llm"
)

func TestDefaultNeedsPlan(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"fix the typo in the footer", false},
		{"Build a landing page for the spring sale", true},
		{"Redesign the about page", true},
		{"Peux-tu créer une page de contact ?", true},
		{strings.Repeat("word ", 100), true},
		{"hi", false},
	}
	for _, tt := range tests {
		if got := DefaultNeedsPlan(tt.msg); got != tt.want {
			t.Errorf("DefaultNeedsPlan(%.30q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestParsePlanLabels(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"json", `["One", "Two"]`, []string{"One", "Two"}},
		{"json with prose", "Here is the plan:\n[\"A\", \" \", \"B\"]\nGood luck", []string{"A", "B"}},
		{"bullets", "- First\n* Second\n\n3. Third", []string{"First", "Second", "Third"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePlanLabels(tt.text)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeneratePlan_Errors(t *testing.T) {
	if _, _, err := GeneratePlan(t.Context(), &mockGateway{err: errors.New("down")}, "x", 100); err == nil {
		t.Error("expected gateway error")
	}
	empty := &mockGateway{responses: []*llm.Response{textResponse("[]")}}
	if _, _, err := GeneratePlan(t.Context(), empty, "x", 100); err == nil {
		t.Error("expected error for empty plan")
	}
}
