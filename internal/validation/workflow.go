package validation

import (
	"fmt"

	"github.com/rendis/shipyard/pkg/schema"
)

// validateWorkflowSemantic checks a workflow definition beyond its schema.
func validateWorkflowSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(wf.Steps))
	for i, step := range wf.Steps {
		p := fmt.Sprintf("steps[%d]", i)
		if step.Name != "" {
			if names[step.Name] {
				result.AddWarning(p+".name", schema.ErrCodeConflict, fmt.Sprintf("step name %q is used twice", step.Name))
			}
			names[step.Name] = true
		}
		if len(step.Components) == 0 {
			result.AddWarning(p+".components", schema.ErrCodeValidation, "step deploys no components")
		}
		if step.Mode == schema.ModeDAG {
			result.AddWarning(p+".mode", schema.ErrCodeValidation,
				"DAG steps are laid out and connected like StepByStep steps")
		}
	}

	return result
}

// validateCoverage checks how a workflow's steps line up with a document's
// components. Steps reference components by name.
func validateCoverage(doc *schema.Document, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	known := make(map[string]bool, len(doc.Component))
	for _, c := range doc.Component {
		known[c.Name] = true
	}

	placed := make(map[string]string)
	for i, step := range wf.Steps {
		for j, name := range step.Components {
			p := fmt.Sprintf("workflow[%s].steps[%d].components[%d]", wf.ID, i, j)
			if !known[name] {
				result.AddWarning(p, schema.ErrCodeNotFound,
					fmt.Sprintf("component %q does not exist and is skipped", name))
				continue
			}
			if prev, ok := placed[name]; ok {
				result.AddWarning(p, schema.ErrCodeConflict,
					fmt.Sprintf("component %q already deployed by step %q", name, prev))
				continue
			}
			placed[name] = step.Name
		}
	}

	for i, c := range doc.Component {
		if _, ok := placed[c.Name]; !ok {
			result.AddWarning(fmt.Sprintf("component[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("component %q is not deployed by workflow %q", c.Name, wf.ID))
		}
	}

	return result
}
