package store

import (
	"context"

	"github.com/byebiz/layerone/internal/model"
)

// RecordFilter specifies criteria for listing verification records.
type RecordFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for verification records. It is the
// single source of truth for status and all enrichment fields.
//
// ApplyPatch is the concurrency-control point of the whole pipeline: it
// writes the patch's field group and new status in one atomic step, guarded
// by a compare-and-swap on the stored status. A stale or duplicate completion
// observes model.ErrConflict and the record is left untouched. Readers always
// see either the pre-patch or the post-patch snapshot, never a half-written
// field group.
type Store interface {
	CreateRecord(ctx context.Context, intake model.Intake) (*model.Record, error)
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	ApplyPatch(ctx context.Context, id string, patch model.Patch) (*model.Record, error)

	Migrate(ctx context.Context) error
	Close() error
}
