package validation

import (
	"context"
	"fmt"

	"github.com/rendis/shipyard/internal/expressions"
	"github.com/rendis/shipyard/pkg/schema"
)

// Policy is a per-component rule. The rule must evaluate to true for a
// compliant component; a false result is reported with Message.
type Policy struct {
	Name     string                    `json:"name"`
	Engine   string                    `json:"engine"` // "cel" or "expr"
	Rule     string                    `json:"rule"`
	Message  string                    `json:"message"`
	Severity schema.ValidationSeverity `json:"severity,omitempty"`
	Kinds    []schema.ComponentKind    `json:"kinds,omitempty"`
}

func (p Policy) appliesTo(kind schema.ComponentKind) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// BuiltinPolicies are always evaluated.
var BuiltinPolicies = []Policy{
	{
		Name:     "image-required",
		Engine:   "cel",
		Rule:     `has(component.image) && component.image != ""`,
		Message:  "service components need an image",
		Severity: schema.SeverityError,
		Kinds:    []schema.ComponentKind{schema.KindWebService, schema.KindStore},
	},
	{
		Name:     "probe-command",
		Engine:   "cel",
		Rule:     `!has(component.traits) || !has(component.traits.probes) || component.traits.probes.all(p, has(p.exec))`,
		Message:  "probes without an exec command are ignored by the backend",
		Severity: schema.SeverityWarning,
	},
	{
		Name:     "store-persistence",
		Engine:   "expr",
		Rule:     `any(component.traits?.storage ?? [], .type == "persistent")`,
		Message:  "store components usually need a persistent volume",
		Severity: schema.SeverityWarning,
		Kinds:    []schema.ComponentKind{schema.KindStore},
	},
}

// policyEngines resolves a policy's engine name.
type policyEngines map[string]expressions.Engine

// evaluatePolicies runs every applicable policy against every component.
// A rule that fails to evaluate is reported as a warning naming the policy.
func evaluatePolicies(ctx context.Context, doc *schema.Document, policies []Policy, engines policyEngines) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i, c := range doc.Component {
		data, err := expressions.ComponentData(doc, c)
		if err != nil {
			result.AddWarning(fmt.Sprintf("component[%d]", i), schema.ErrCodeEvaluation, err.Error())
			continue
		}
		for _, pol := range policies {
			if !pol.appliesTo(c.Type) {
				continue
			}
			p := fmt.Sprintf("component[%d]", i)
			engine, ok := engines[pol.Engine]
			if !ok {
				result.AddWarning(p, schema.ErrCodeEvaluation,
					fmt.Sprintf("policy %q: unknown engine %q", pol.Name, pol.Engine))
				continue
			}
			ok, err := expressions.EvalBool(ctx, engine, pol.Rule, data)
			if err != nil {
				result.AddWarning(p, schema.ErrCodeEvaluation, fmt.Sprintf("policy %q: %s", pol.Name, err.Error()))
				continue
			}
			if ok {
				continue
			}
			msg := fmt.Sprintf("%s: %s", c.Name, pol.Message)
			if pol.Severity == schema.SeverityWarning {
				result.AddWarning(p, pol.Name, msg)
			} else {
				result.AddError(p, pol.Name, msg)
			}
		}
	}

	return result
}
