package archive

import (
	"context"

	"github.com/ifebuche/twifesh/internal/records"
)

// RecordStore is the interface consumed by the batcher and the API.
// The concrete implementation is *Store (pgx-backed).
type RecordStore interface {
	InsertRecords(ctx context.Context, recs []records.Record) error
	QueryRecent(ctx context.Context, limit int) ([]records.Record, error)
	Close()
}
