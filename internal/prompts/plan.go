package prompts

import "fmt"

// planTemplate asks the model for a short task list before it acts.
// Format verb: (1) the user's request.
const planTemplate = `Before doing any work, break the following request into a short ordered plan of concrete steps
(3 to 8). Each step should be one action you will take with your tools.

Request:
%s

Respond with JSON only, an array of step labels:
["...", "..."]
JSON:`

// PlanPrompt returns the prompt used to generate an advisory plan.
func PlanPrompt(request string) string {
	return fmt.Sprintf(planTemplate, request)
}

// PlanSystem is the system prompt for plan generation. No tools are
// offered on that call.
const PlanSystem = `You are a planning assistant for a WordPress content agent. You only produce plans; you never execute them.`
