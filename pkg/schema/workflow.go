package schema

// ConnectionMode is the declared step mode. Layout treats both modes the same.
type ConnectionMode string

const (
	ModeStepByStep ConnectionMode = "StepByStep"
	ModeDAG        ConnectionMode = "DAG"
)

// Workflow is an ordered list of steps, each naming the components it deploys.
// Workflows are fetched from the backend for a saved application.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	Steps []Step `json:"steps"`
}

// Step is one stage of a workflow. Components are referenced by name.
type Step struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Alias      string         `json:"alias,omitempty"`
	Mode       ConnectionMode `json:"mode"`
	Components []string       `json:"components"`
}

// FindWorkflow returns the workflow with the given id.
func FindWorkflow(wfs []Workflow, id string) (Workflow, bool) {
	for _, wf := range wfs {
		if wf.ID == id {
			return wf, true
		}
	}
	return Workflow{}, false
}
