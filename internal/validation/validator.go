package validation

import "github.com/rendis/shipyard/pkg/schema"

// Validator checks compiled documents and workflow definitions before they
// are sent to the backend. Local findings are advisory: the backend dry-run
// is the authority.
type Validator interface {
	ValidateDocument(doc *schema.Document) error
	ValidateWorkflow(wf *schema.Workflow) error
}
