package validation

import (
	"context"

	"github.com/rendis/shipyard/internal/expressions"
	"github.com/rendis/shipyard/pkg/schema"
)

// Linter orchestrates the three-stage document pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (Kubernetes names, quantities, collisions)
// 3. Policies (CEL / expr rules per component)
type Linter struct {
	jsonSchema *JSONSchemaValidator
	policies   []Policy
	engines    policyEngines
}

var _ Validator = (*Linter)(nil)

// NewLinter creates a Linter with the built-in policies plus extra ones.
func NewLinter(extra ...Policy) (*Linter, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	policies := make([]Policy, 0, len(BuiltinPolicies)+len(extra))
	policies = append(policies, BuiltinPolicies...)
	policies = append(policies, extra...)

	return &Linter{
		jsonSchema: jsv,
		policies:   policies,
		engines: policyEngines{
			"cel":  celEngine,
			"expr": expressions.NewExprEngine(),
		},
	}, nil
}

// Lint runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and policy stages are skipped.
func (l *Linter) Lint(ctx context.Context, doc *schema.Document) *schema.ValidationResult {
	if doc == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "document is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := structural(l.jsonSchema.ValidateDocument(doc))
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(doc))

	// Stage 3: Policies.
	result.Merge(evaluatePolicies(ctx, doc, l.policies, l.engines))

	return result
}

// LintWorkflow checks a workflow definition and, when doc is non-nil, how
// its steps cover the document's components.
func (l *Linter) LintWorkflow(doc *schema.Document, wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	result := structural(l.jsonSchema.ValidateWorkflow(wf))
	if !result.Valid() {
		return result
	}
	result.Merge(validateWorkflowSemantic(wf))
	if doc != nil {
		result.Merge(validateCoverage(doc, wf))
	}
	return result
}

// ValidateDocument satisfies the Validator interface.
func (l *Linter) ValidateDocument(doc *schema.Document) error {
	return l.Lint(context.Background(), doc).ToError()
}

// ValidateWorkflow satisfies the Validator interface.
func (l *Linter) ValidateWorkflow(wf *schema.Workflow) error {
	return l.LintWorkflow(nil, wf).ToError()
}

// structural converts a JSON Schema error into a ValidationResult.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	se, ok := err.(*schema.ShipyardError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if se.Details != nil {
		if violations, ok := se.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}
