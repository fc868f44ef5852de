package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shipyard/pkg/schema"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExprEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*ExprEngine)(nil)
}

func TestExpr_Literals(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "42", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = e.Evaluate(context.Background(), `"hello"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExpr_ComponentPolicies(t *testing.T) {
	e := NewExprEngine()

	db := componentFixture(t, schema.Component{
		Name:     "db",
		Type:     schema.KindStore,
		Replicas: 1,
		Image:    strPtr("postgres:16"),
		Traits: &schema.TraitsSpec{
			Storage: []schema.StorageSpec{
				{Type: schema.StoragePersistent, Name: "data", MountPath: "/var/lib/postgresql", Size: "10Gi"},
			},
			Resource: &schema.ResourceSpec{CPU: "500m", Memory: "1Gi"},
		},
	})

	tests := []struct {
		name string
		rule string
		want bool
	}{
		{"store has persistent storage", `any(component.traits?.storage ?? [], .type == "persistent")`, true},
		{"every storage has mount", `all(component.traits.storage, .mountPath != "")`, true},
		{"resource set", `component.traits?.resource?.memory != nil`, true},
		{"no probes", `len(component.traits?.probes ?? []) == 0`, true},
		{"replicas", `component.replicas > 1`, false},
		{"project", `app.project == "retail"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := EvalBool(context.Background(), e, tt.rule, db)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestExpr_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), `component.name.foo`, map[string]any{"component": map[string]any{"name": 1}})
	assert.Error(t, err)
}

func TestExpr_Caching(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"x": 1}
	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), "x + 1", data)
		require.NoError(t, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"component": map[string]any{"name": "api"}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := EvalBool(context.Background(), e, `component.name == "api"`, data)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
