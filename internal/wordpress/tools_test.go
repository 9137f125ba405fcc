package wordpress

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/nugget/blockwright/internal/tools"
)

func TestToolCatalogs(t *testing.T) {
	c := NewClient("http://example.invalid", "u", "p", discardLogger())
	reg := tools.NewRegistry()
	reg.RegisterAll(ContentTools(c))
	reg.RegisterAll(SiteTools(c))

	for _, name := range []string{
		"list_pages", "get_page", "create_page", "update_page", "delete_page",
		"list_reusable_blocks", "create_reusable_block", "list_block_types",
		"get_block_schema", "get_theme_styles", "update_theme_styles",
		"get_site_info", "get_page_tree", "list_navigation_menus", "list_templates",
	} {
		if reg.Get(name) == nil {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestCreatePageTool_ConvertsMarkdown(t *testing.T) {
	var sent PageInput
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.Write([]byte(`{"id":3,"status":"draft","title":{"raw":"Docs"}}`))
	})
	reg := tools.NewRegistry()
	reg.RegisterAll(ContentTools(c))

	out, err := reg.Execute(t.Context(), "create_page", map[string]any{
		"title":   "Docs",
		"content": "## Intro\n\nBody text.",
		"format":  "markdown",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(sent.Content, "<!-- wp:heading -->") {
		t.Errorf("content not converted to blocks: %q", sent.Content)
	}
	imm, ok := out.(tools.Immediate)
	if !ok {
		t.Fatalf("outcome = %T, want Immediate", out)
	}
	if ps, ok := imm.Value.(PageSummary); !ok || ps.ID != 3 {
		t.Errorf("value = %#v", imm.Value)
	}
}

func TestUpdatePageTool_RequiresID(t *testing.T) {
	c := NewClient("http://example.invalid", "u", "p", discardLogger())
	reg := tools.NewRegistry()
	reg.RegisterAll(ContentTools(c))

	if _, err := reg.Execute(t.Context(), "update_page", map[string]any{"title": "x"}); err == nil {
		t.Error("expected validation error without id")
	}
}
