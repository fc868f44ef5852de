// Package layout maps a workflow's steps onto graph edges and node positions.
// Components are matched by display name. When names collide the last node
// with that name wins.
package layout

import "github.com/rendis/shipyard/pkg/schema"

// Canvas constants, in canvas coordinate units.
const (
	HorizontalGap = 300
	VerticalGap   = 150
	StartX        = 100
	StartY        = 100
)

// Result is the combined output of a layout pass.
type Result struct {
	Nodes []schema.GraphNode `json:"nodes"`
	Edges []schema.Edge      `json:"edges"`
}

// Apply rearranges nodes and rebuilds edges for the workflow.
func Apply(wf schema.Workflow, nodes []schema.GraphNode) Result {
	return Result{
		Nodes: RearrangeNodesForWorkflow(wf, nodes),
		Edges: ApplyWorkflowConnections(wf, nodes),
	}
}

// EdgeID returns the deterministic id of the edge from source to target.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}

// ApplyWorkflowConnections connects every node of the previous non-empty step
// to every node of the current step. Unmatched names are skipped and steps
// resolving to no node are skipped entirely. StepByStep and DAG steps are
// connected the same way.
func ApplyWorkflowConnections(wf schema.Workflow, nodes []schema.GraphNode) []schema.Edge {
	ids := nameIndex(nodes)

	edges := make([]schema.Edge, 0)
	seen := make(map[string]bool)
	var previous []string

	for _, step := range wf.Steps {
		current := make([]string, 0, len(step.Components))
		for _, name := range step.Components {
			if id, ok := ids[name]; ok {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			continue
		}

		for _, src := range previous {
			for _, dst := range current {
				id := EdgeID(src, dst)
				if seen[id] {
					continue
				}
				seen[id] = true
				edges = append(edges, schema.Edge{ID: id, Source: src, Target: dst})
			}
		}
		previous = current
	}

	return edges
}

type slot struct {
	step, index, total int
}

// RearrangeNodesForWorkflow places each named node in a column per step,
// centered vertically around StartY. Nodes not named by any step keep their
// position. The input slice is not modified.
func RearrangeNodesForWorkflow(wf schema.Workflow, nodes []schema.GraphNode) []schema.GraphNode {
	slots := make(map[string]slot)
	for si, step := range wf.Steps {
		for ci, name := range step.Components {
			slots[name] = slot{step: si, index: ci, total: len(step.Components)}
		}
	}

	out := make([]schema.GraphNode, len(nodes))
	copy(out, nodes)

	for i := range out {
		s, ok := slots[out[i].Name]
		if !ok {
			continue
		}
		offset := 0.0
		if s.total > 1 {
			offset = (float64(s.index) - float64(s.total-1)/2) * VerticalGap
		}
		out[i].Position = schema.Position{
			X: StartX + float64(s.step)*HorizontalGap,
			Y: StartY + offset,
		}
	}

	return out
}

func nameIndex(nodes []schema.GraphNode) map[string]string {
	ids := make(map[string]string, len(nodes))
	for _, n := range nodes {
		ids[n.Name] = n.ID
	}
	return ids
}
