package prompts

import "fmt"

// DelegateToolDescription is the LLM-facing description for the
// delegate_to_subagent tool.
const DelegateToolDescription = `Hand a self-contained task to a specialist sub-agent with a restricted tool set.

Roles:
- content_writer: drafts and revises page copy and synced patterns.
- layout_designer: builds page structure from layout blocks in the open editor.
- style_designer: adjusts global theme styles (colors, typography, spacing).

Give a complete task description; the sub-agent cannot see this conversation. Put page IDs, block client IDs
and any copy it must use in context. The result reports success, a summary and the tools it used.`

// subagentTemplate frames a role's instructions. Format verbs: (1) role
// name, (2) role instructions, (3) iteration ceiling.
const subagentTemplate = `You are the %s sub-agent of a WordPress content assistant.

%s

You have at most %d tool rounds. Finish with a short plain-text summary of what you did, including IDs of
anything you created or changed. If you could not complete the task, say what is missing.`

// SubagentPrompt returns the system prompt for a delegated role.
func SubagentPrompt(role, instructions string, maxIterations int) string {
	return fmt.Sprintf(subagentTemplate, role, instructions, maxIterations)
}

// Role instructions for the built-in sub-agents.
const (
	ContentWriterInstructions = `Write clear, well-structured copy. Use headings to organize long content and keep paragraphs short.
Write markdown and pass format "markdown" when creating or updating pages so the result is native blocks.
Match the tone of existing pages when asked to extend them; read them first.`

	LayoutDesignerInstructions = `Build layouts in the open editor from core layout blocks: group, columns, column, cover, spacer, buttons.
Check each block's schema before inserting it and read the block tree after structural changes.
Use theme preset values (colors, spacing) rather than hard-coded ones.`

	StyleDesignerInstructions = `Adjust the active theme's global styles. Read the current styles first and change only what the task asks.
Keep text and background colors accessible (WCAG AA contrast). Describe every value you changed.`
)

// TaskMessage returns the first user message of a delegated task.
func TaskMessage(task, context string) string {
	if context == "" {
		return task
	}
	return fmt.Sprintf("%s\n\nContext:\n%s", task, context)
}
