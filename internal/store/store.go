// Package store persists processed reports. The pipeline depends only
// on the Sink interface; the concrete driver is picked at startup.
package store

import (
	"context"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

type Sink interface {
	Save(ctx context.Context, record report.StoredRecord) error
	Close()
}
