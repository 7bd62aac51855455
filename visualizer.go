package stepflow

import (
	"fmt"
	"strings"
)

// Visualizer renders a workflow definition as a Mermaid flowchart, with a
// node shape per step type and labelled edges for conditional transitions.
type Visualizer struct{}

func NewVisualizer() *Visualizer {
	return &Visualizer{}
}

func (v *Visualizer) RenderMermaid(wf *Workflow) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")
	b.WriteString(fmt.Sprintf("    %%%% %s (v%d)\n", wf.Name, wf.Version))

	for _, step := range wf.Steps {
		b.WriteString("    " + v.renderNode(step) + "\n")
	}

	for _, step := range wf.Steps {
		for _, next := range step.Next {
			label := v.edgeLabel(step, next)
			if label == "" {
				b.WriteString(fmt.Sprintf("    %s --> %s\n", nodeID(step.ID), nodeID(next)))
			} else {
				b.WriteString(fmt.Sprintf("    %s -->|%s| %s\n", nodeID(step.ID), label, nodeID(next)))
			}
		}
	}

	return b.String()
}

func (v *Visualizer) renderNode(step WorkflowStep) string {
	label := step.Name
	if label == "" {
		label = step.ID
	}

	switch step.Type {
	case StepTypeApproval:
		// hexagon marks a human gate
		return fmt.Sprintf("%s{{%q}}", nodeID(step.ID), label)
	case StepTypeDecision:
		return fmt.Sprintf("%s{%q}", nodeID(step.ID), label)
	case StepTypeIntegration:
		return fmt.Sprintf("%s[[%q]]", nodeID(step.ID), label)
	case StepTypeNotification:
		return fmt.Sprintf("%s>%q]", nodeID(step.ID), label)
	default:
		return fmt.Sprintf("%s[%q]", nodeID(step.ID), label)
	}
}

// edgeLabel renders the conditions gating the transition to next: targeted
// conditions for that successor plus any untargeted conditions on the step.
func (v *Visualizer) edgeLabel(step WorkflowStep, next string) string {
	var parts []string
	for _, cond := range step.Conditions {
		if cond.Target != "" && cond.Target != next {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value))
	}

	return strings.Join(parts, " and ")
}

// nodeID strips characters Mermaid treats as syntax from step ids.
func nodeID(id string) string {
	replacer := strings.NewReplacer(" ", "_", "-", "_", ".", "_")

	return replacer.Replace(id)
}
