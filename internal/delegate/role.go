// Package delegate runs specialist sub-agents. A sub-agent is the agent
// loop with its own system prompt, a fixed tool subset and a short
// iteration ceiling, invoked from the main loop as an ordinary tool.
package delegate

import (
	"maps"
	"slices"

	"github.com/nugget/blockwright/internal/prompts"
)

// ToolName is the delegation tool. It is never offered to a sub-agent,
// so delegation depth stays at one.
const ToolName = "delegate_to_subagent"

// DefaultMaxIterations is the sub-agent iteration ceiling.
const DefaultMaxIterations = 10

// Role names.
const (
	RoleContentWriter  = "content_writer"
	RoleLayoutDesigner = "layout_designer"
	RoleStyleDesigner  = "style_designer"
)

// Role defines a sub-agent.
type Role struct {
	// Name is the role identifier passed by the model.
	Name string

	// Description is a human-readable summary for logging.
	Description string

	// AllowedTools lists the tools the sub-agent may call.
	AllowedTools []string

	// Instructions are the role-specific part of the system prompt.
	Instructions string

	// MaxIterations overrides the executor's ceiling when positive.
	MaxIterations int
}

// SystemPrompt returns the role's full system prompt for ceiling iterations.
func (r *Role) SystemPrompt(ceiling int) string {
	return prompts.SubagentPrompt(r.Name, r.Instructions, ceiling)
}

func builtinRoles() map[string]*Role {
	return map[string]*Role{
		RoleContentWriter: {
			Name:        RoleContentWriter,
			Description: "Drafts and revises page copy",
			AllowedTools: []string{
				"list_pages", "get_page", "create_page", "update_page",
				"list_reusable_blocks", "create_reusable_block",
				"get_block_schema", "list_block_types",
				"get_site_info", "get_page_tree",
			},
			Instructions: prompts.ContentWriterInstructions,
		},
		RoleLayoutDesigner: {
			Name:        RoleLayoutDesigner,
			Description: "Builds page structure in the live editor",
			AllowedTools: []string{
				"get_block_tree", "get_selected_block", "insert_block", "update_block",
				"remove_block", "move_block", "replace_block_content", "select_block",
				"get_block_schema", "list_block_types", "list_reusable_blocks", "get_theme_styles",
			},
			Instructions: prompts.LayoutDesignerInstructions,
		},
		RoleStyleDesigner: {
			Name:        RoleStyleDesigner,
			Description: "Adjusts global theme styles",
			AllowedTools: []string{
				"get_theme_styles", "update_theme_styles", "get_site_info",
				"list_templates", "get_block_schema",
			},
			Instructions: prompts.StyleDesignerInstructions,
		},
	}
}

func roleNames(roles map[string]*Role) []string {
	return slices.Sorted(maps.Keys(roles))
}
