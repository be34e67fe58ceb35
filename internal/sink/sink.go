package sink

import (
	"context"

	"link_grader/internal/models"
)

// Sink receives the flattened rows of one run.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, rows []models.ResultRow) error
}
