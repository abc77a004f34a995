// Package blob stores uploaded financial documents under record-scoped paths.
// The pipeline treats it as reliable but possibly slow, and never assumes a
// freshly written object is immediately listable: upload handlers pass
// explicit paths forward instead of re-listing.
package blob

import (
	"context"
	"fmt"
	"path"
)

// Store is the document storage contract.
type Store interface {
	// Put writes data under a record-scoped key and returns the full path.
	Put(ctx context.Context, recordID, label, filename string, data []byte) (string, error)
	// List returns all paths stored under the record's prefix.
	List(ctx context.Context, recordID string) ([]string, error)
	// Get reads the bytes at a path previously returned by Put or List.
	Get(ctx context.Context, path string) ([]byte, error)
}

// Key builds the canonical object key for an uploaded document.
func Key(recordID, label, filename string) string {
	return path.Join(recordID, fmt.Sprintf("%s-%s", label, path.Base(filename)))
}
