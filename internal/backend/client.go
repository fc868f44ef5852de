// Package backend is the contract with the external deployment service that
// validates, stores and runs compiled application documents.
package backend

import (
	"context"

	"github.com/rendis/shipyard/pkg/schema"
)

// Client is the external collaborator. Every call is a single request/response.
type Client interface {
	// DryRun asks the service to validate a document without storing it.
	// A rejection is a DRY_RUN_REJECTED error carrying the service message.
	DryRun(ctx context.Context, doc *schema.Document) error
	SaveApplication(ctx context.Context, doc *schema.Document) (*SaveResult, error)
	ListWorkflows(ctx context.Context, appID string) ([]schema.Workflow, error)
	// PublishWorkflow starts a workflow run and returns its task id.
	PublishWorkflow(ctx context.Context, appID, workflowID string) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*schema.TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
}

// SaveResult is the service's answer to a stored application.
type SaveResult struct {
	AppID   string `json:"id"`
	Version string `json:"version,omitempty"`
}
