package persistence

import (
	"context"

	"github.com/IliaW/catalog-crawl-worker/internal/model"
)

// RecordSink is the storage collaborator. Insert must be idempotent with
// respect to the record's source url so re-runs do not duplicate rows.
type RecordSink interface {
	Insert(ctx context.Context, record *model.Record) error
	Close() error
}
