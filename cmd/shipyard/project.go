package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rendis/shipyard/pkg/schema"
)

// project is the on-disk editing state read by the offline commands.
type project struct {
	Meta      schema.ProjectMeta `json:"meta"`
	Nodes     []schema.GraphNode `json:"nodes"`
	Edges     []schema.Edge      `json:"edges,omitempty"`
	Workflows []schema.Workflow  `json:"workflows,omitempty"`
}

// readProject reads a project from path, or from stdin when path is "-" or
// empty. YAML and JSON are both accepted.
func readProject(path string, stdin io.Reader) (*project, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	return decodeProject(data)
}

// decodeProject parses YAML (a superset of JSON) into a generic tree and then
// binds it through the JSON tags of the schema types.
func decodeProject(data []byte) (*project, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse project: %s", err.Error()).WithCause(err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("normalize project: %w", err)
	}
	var p project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode project: %s", err.Error()).WithCause(err)
	}
	return &p, nil
}

// workflow picks a workflow by id, or the only one when id is empty.
func (p *project) workflow(id string) (schema.Workflow, error) {
	if id == "" {
		if len(p.Workflows) == 1 {
			return p.Workflows[0], nil
		}
		return schema.Workflow{}, schema.NewErrorf(schema.ErrCodeValidation,
			"project has %d workflows; pick one with -workflow", len(p.Workflows))
	}
	wf, ok := schema.FindWorkflow(p.Workflows, id)
	if !ok {
		return schema.Workflow{}, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	return wf, nil
}
