package workitem

import "context"

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/mattjoyce/workitems/internal/workitem Adapter

// Adapter is the storage backend behind a Library. Implementations are not
// required to be safe for concurrent use.
type Adapter interface {
	// ReserveInput claims the next input item and returns its id. It returns
	// ErrEmptyQueue once the inputs are drained.
	ReserveInput(ctx context.Context) (string, error)

	// ReleaseInput records the terminal state of a reserved input.
	ReleaseInput(ctx context.Context, id string, state State, exc *Exception) error

	// CreateOutput registers a new output item as a child of parentID.
	CreateOutput(ctx context.Context, parentID string, payload any) (string, error)

	LoadPayload(ctx context.Context, id string) (any, error)
	SavePayload(ctx context.Context, id string, payload any) error

	ListFiles(ctx context.Context, id string) ([]string, error)
	GetFile(ctx context.Context, id, name string) ([]byte, error)
	AddFile(ctx context.Context, id, name string, content []byte) error
	RemoveFile(ctx context.Context, id, name string) error
}
