// Package objectstore defines the blob storage interface the compaction
// core reads its input files from and writes its output files to (spec
// §6.2). Two implementations live in subpackages: fsstore for local
// disk (tests, single-node demos) and s3store for AWS S3.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/GetRange/Head when the object does not
// exist.
var ErrNotFound = errors.New("objectstore: not found")

// Path is an object key, '/'-delimited regardless of backend.
type Path string

// Meta is the metadata returned by Head and List.
type Meta struct {
	Path         Path
	Size         int64
	LastModified time.Time
}

// ListPage is one page of a delimiter-aware listing: Objects are leaf
// objects under the prefix, CommonPrefixes are the "directories" cut off
// at delimiter, mirroring S3's ListObjectsV2 semantics.
type ListPage struct {
	Objects        []Meta
	CommonPrefixes []Path
}

// Store is the blob storage surface the core needs (spec §6.2). All
// methods are safe for concurrent use.
type Store interface {
	// Put writes data at path, replacing any existing object completely
	// (spec §3 invariant 2: files are immutable once written, so this is
	// only ever called with a fresh ObjectStoreID-derived path).
	Put(ctx context.Context, path Path, data []byte) error

	// Get reads the full object at path.
	Get(ctx context.Context, path Path) ([]byte, error)

	// GetRange reads length bytes starting at offset. A negative length
	// reads to the end of the object.
	GetRange(ctx context.Context, path Path, offset, length int64) ([]byte, error)

	// Head returns metadata without fetching the body.
	Head(ctx context.Context, path Path) (Meta, error)

	// List returns every object whose key has the given prefix, in
	// ascending key order.
	List(ctx context.Context, prefix Path) ([]Meta, error)

	// ListWithDelimiter groups keys under prefix by delimiter, the way
	// S3's ListObjectsV2 does, for browsing namespace/table/partition
	// directory structure without materializing every file below it.
	ListWithDelimiter(ctx context.Context, prefix Path, delimiter string) (ListPage, error)

	// Delete removes the object at path. Deleting a nonexistent object
	// is not an error (spec §4.5 step 5: a delete race with a prior
	// delete is harmless since compaction never reads ToDelete files).
	Delete(ctx context.Context, path Path) error
}
