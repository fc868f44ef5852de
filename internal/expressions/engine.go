package expressions

import (
	"context"
	"encoding/json"

	"github.com/rendis/shipyard/pkg/schema"
)

// Engine evaluates expressions over compiled application documents.
// Three implementations: CEL and Expr (policy rules), GoJQ (document queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// EvalBool evaluates a policy rule that must produce a boolean.
func EvalBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluation,
			"%s rule %q returned %T, want bool", e.Name(), expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

// DocumentData converts a compiled document to its generic JSON form.
func DocumentData(doc *schema.Document) (map[string]any, error) {
	return toData(doc)
}

// ComponentData builds the variables a policy rule sees for one component:
// "component" is the component and "app" is the document without its
// component list.
func ComponentData(doc *schema.Document, c schema.Component) (map[string]any, error) {
	comp, err := toData(c)
	if err != nil {
		return nil, err
	}
	app := map[string]any{
		"name":        doc.Name,
		"alias":       doc.Alias,
		"version":     doc.Version,
		"project":     doc.Project,
		"description": doc.Description,
		"components":  len(doc.Component),
	}
	return map[string]any{"component": comp, "app": app}, nil
}

func toData(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeEvaluation, "failed to serialize expression data").WithCause(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeEvaluation, "failed to decode expression data").WithCause(err)
	}
	return out, nil
}
