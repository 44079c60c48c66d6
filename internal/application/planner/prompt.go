package planner

import (
	"fmt"
	"strings"

	"github.com/musterd/muster/pkg/ports"
)

const proposalSystemPrompt = "You are a work-planning assistant. You decompose project descriptions into dependency graphs of discrete work items. You reply with JSON only."

// proposalPrompt is the prompt template for graph proposals. The first
// argument is the workflow catalog summary, the second the description.
const proposalPrompt = `Break this project description into discrete work items forming a dependency graph. Each item should be sized for a single worker to complete.

Available workflows:
%s

Project description:
%s

Return ONLY a JSON array of nodes with this exact structure (no other text):
[
  {
    "id": "short-local-id",
    "title": "Short item title",
    "description": "Detailed item description",
    "workflowId": "id of a workflow from the list above; omit for purely informational nodes",
    "stage": "optional stage label",
    "affinity": "optional worker capability tag",
    "dependsOn": ["id of each prerequisite node"]
  }
]

Rules:
- every id must be unique within the array
- dependsOn may only reference ids from this same array
- the dependency graph must not contain cycles`

func buildProposalPrompt(description string, catalog []ports.WorkflowSummary) string {
	var sb strings.Builder
	if len(catalog) == 0 {
		sb.WriteString("(none)")
	}
	for _, wf := range catalog {
		sb.WriteString("- ")
		sb.WriteString(wf.ID)
		if wf.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(wf.Description)
		}
		if len(wf.Stages) > 0 {
			sb.WriteString(" (stages: ")
			sb.WriteString(strings.Join(wf.Stages, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return fmt.Sprintf(proposalPrompt, strings.TrimRight(sb.String(), "\n"), description)
}
