package delegate

import (
	"context"

	"github.com/nugget/blockwright/internal/prompts"
	"github.com/nugget/blockwright/internal/tools"
)

// CatalogAgent is the catalog name of the delegation tool.
const CatalogAgent = "agent"

// Tool returns the delegate_to_subagent tool bound to exec. The tool
// result is the sub-agent's Result.
func Tool(exec *Executor) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: prompts.DelegateToolDescription,
		Catalog:     CatalogAgent,
		InputSchema: tools.Object(map[string]any{
			"role":    tools.EnumProp("Sub-agent role", exec.RoleNames()...),
			"task":    tools.StringProp("Complete description of what to accomplish"),
			"context": tools.StringProp("Page IDs, block client IDs, copy or other facts the sub-agent needs"),
		}, "role", "task"),
		Handler: func(ctx context.Context, args map[string]any) (tools.Outcome, error) {
			res, err := exec.Execute(ctx, tools.StringArg(args, "role"), tools.StringArg(args, "task"), tools.StringArg(args, "context"))
			if err != nil {
				return nil, err
			}
			return tools.Value(res), nil
		},
	}
}
