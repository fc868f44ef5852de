package api

import (
	"net/http"

	"github.com/rendis/shipyard/internal/compiler"
	"github.com/rendis/shipyard/internal/layout"
	"github.com/rendis/shipyard/pkg/schema"
)

type compileRequest struct {
	Meta  schema.ProjectMeta `json:"meta"`
	Nodes []schema.GraphNode `json:"nodes"`
}

type layoutRequest struct {
	Workflow schema.Workflow    `json:"workflow"`
	Nodes    []schema.GraphNode `json:"nodes"`
}

type lintRequest struct {
	Meta     schema.ProjectMeta `json:"meta"`
	Nodes    []schema.GraphNode `json:"nodes"`
	Workflow *schema.Workflow   `json:"workflow,omitempty"`
}

type queryRequest struct {
	Expression string             `json:"expression"`
	Meta       schema.ProjectMeta `json:"meta"`
	Nodes      []schema.GraphNode `json:"nodes"`
}

// handleCompile turns a graph into a document. ?format=yaml renders YAML.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	format, err := compiler.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	var body compileRequest
	if !decodeBody(w, r, &body) {
		return
	}

	out, err := compiler.Marshal(compiler.Compile(body.Meta, body.Nodes), format)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if format == compiler.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var body layoutRequest
	if !decodeBody(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, layout.Apply(body.Workflow, body.Nodes))
}

// handleLint compiles and lints a graph, and the workflow coverage when a
// workflow is supplied.
func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Linter == nil {
		writeError(w, http.StatusServiceUnavailable, "linter not configured")
		return
	}
	var body lintRequest
	if !decodeBody(w, r, &body) {
		return
	}

	doc := compiler.Compile(body.Meta, body.Nodes)
	result := s.deps.Linter.Lint(r.Context(), doc)
	if body.Workflow != nil {
		result.Merge(s.deps.Linter.LintWorkflow(doc, body.Workflow))
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQuery runs a jq expression against the compiled document.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Expression == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return
	}

	results, err := s.query.Query(r.Context(), body.Expression, compiler.Compile(body.Meta, body.Nodes))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
