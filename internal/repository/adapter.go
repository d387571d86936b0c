package repository

import (
	"context"

	"github.com/compozy/gitdeck/internal/domain"
)

// ProcessAdapter runs version-control commands against a working copy.
// Implementations must be safe to call concurrently for distinct paths. A
// non-zero exit is reported through AdapterResult.ExitCode; the error return
// is reserved for failures to run the tool at all or context expiry.
type ProcessAdapter interface {
	Execute(ctx context.Context, repoPath string, spec domain.OperationSpec) (domain.AdapterResult, error)
}
