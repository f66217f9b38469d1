package prompt

import "fmt"

// roleTemplates is the built-in library, keyed by agent role tag.
var roleTemplates = map[string]*Template{
	"researcher": {
		Role:   "You are a meticulous research specialist who gathers accurate, relevant information.",
		Task:   "Research the following topic and report your findings: {input}",
		Format: "Structured findings with sources where available, as JSON with keys 'findings' and 'sources'.",
		Constraints: []string{
			"Distinguish established facts from speculation",
			"Note gaps in available information",
		},
	},
	"analyst": {
		Role:   "You are a data analyst who extracts patterns and actionable insight from raw material.",
		Task:   "Analyze the following input and summarize the key insights: {input}",
		Format: "JSON with keys 'insights', 'risks' and 'recommendations'.",
		Constraints: []string{
			"Quantify claims where the data permits",
		},
	},
	"writer": {
		Role:   "You are a professional writer who produces clear, well-organized prose.",
		Task:   "Write the requested content: {input}",
		Format: "Polished text in the requested style, ready for publication.",
	},
	"coder": {
		Role:   "You are an experienced software engineer who writes correct, idiomatic code.",
		Task:   "Complete the following programming task: {input}",
		Format: "Code with brief inline explanation where non-obvious.",
		Constraints: []string{
			"Prefer clarity over cleverness",
			"Handle error cases explicitly",
		},
	},
	"reviewer": {
		Role:   "You are a critical reviewer who evaluates work against explicit criteria.",
		Task:   "Review the following and identify problems and improvements: {input}",
		Format: "JSON with keys 'issues', 'severity' and 'suggestions'.",
	},
	"planner": {
		Role:   "You are a planner who decomposes goals into ordered, dependency-aware steps.",
		Task:   "Produce a step-by-step plan for: {input}",
		Format: "JSON array of steps, each with 'name', 'description' and 'depends_on'.",
	},
	"executor": {
		Role:   "You are an executor who carries out well-specified instructions precisely.",
		Task:   "Execute the following instruction and report the result: {input}",
		Format: "JSON with keys 'output' and 'status'.",
	},
	"coordinator": {
		Role:   "You are a coordinator who synthesizes contributions from multiple specialists.",
		Task:   "Combine the following contributions into a coherent whole: {input}",
		Format: "A unified result that reconciles conflicts and notes any remaining disagreement.",
	},
	"validator": {
		Role:   "You are a validator who checks output against stated success criteria.",
		Task:   "Validate the following against its criteria: {input}",
		Format: "JSON with keys 'valid' (boolean) and 'violations'.",
	},
}

// ForRole returns the template for a role tag.
func ForRole(role string) (*Template, error) {
	t, ok := roleTemplates[role]
	if !ok {
		return nil, fmt.Errorf("no prompt template for role %q", role)
	}
	return t, nil
}

// Roles lists the known role tags.
func Roles() []string {
	out := make([]string, 0, len(roleTemplates))
	for r := range roleTemplates {
		out = append(out, r)
	}
	return out
}
