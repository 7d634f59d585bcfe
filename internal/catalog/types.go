// Package catalog defines the data model and repository interface the
// compaction core consumes for namespace/table/partition/file/tombstone
// metadata (spec §3, §6.1). The catalog itself — a transactional
// metadata store — is an external collaborator; this package only
// describes the shape the core needs from it, plus two concrete, fully
// in-module implementations (catalogmem, catalogbolt) so the core is
// runnable without a real external service.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// CompactionLevel is a monotonically increasing tag on a file.
type CompactionLevel int

const (
	// LevelInitial (L0) is as written by ingest; L0 files may overlap
	// arbitrarily in time.
	LevelInitial CompactionLevel = iota
	// LevelFileNonOverlapped (L1) files are pairwise non-overlapping in
	// time within a partition.
	LevelFileNonOverlapped
	// LevelFinal (L2) files are pairwise non-overlapping and do not
	// overlap any L1 file.
	LevelFinal
)

func (l CompactionLevel) String() string {
	switch l {
	case LevelInitial:
		return "L0"
	case LevelFileNonOverlapped:
		return "L1"
	case LevelFinal:
		return "L2"
	default:
		return "Lunknown"
	}
}

// ShardID identifies a process-wide ingest shard/topic.
type ShardID int32

// NamespaceID, TableID, PartitionID, FileID, TombstoneID are catalog
// primary keys. They are distinct types so a caller can't accidentally
// pass a TableID where a PartitionID is expected.
type (
	NamespaceID   int64
	TableID       int64
	PartitionID   int64
	FileID        int64
	TombstoneID   int64
)

// Namespace is created by the control plane and is read-only to the core.
type Namespace struct {
	ID        NamespaceID
	Name      string
	Retention time.Duration
}

// ColumnType is the logical type of a table column. Only the distinction
// relevant to the hot filter's memory estimate (spec §4.3) is modeled.
type ColumnType int

const (
	ColumnTypeI64 ColumnType = iota
	ColumnTypeF64
	ColumnTypeBool
	ColumnTypeString
	ColumnTypeTag
	ColumnTypeTime
)

// MeanWidthBytes is the heuristic decompressed width used by the hot
// filter's per-row footprint estimate (spec §4.3).
func (t ColumnType) MeanWidthBytes() uint64 {
	switch t {
	case ColumnTypeI64, ColumnTypeF64, ColumnTypeTime:
		return 8
	case ColumnTypeBool:
		return 1
	case ColumnTypeString, ColumnTypeTag:
		return 16 // heuristic mean width; real width varies by cardinality
	default:
		return 8
	}
}

// Table is created by ingest and is read-only to the core.
type Table struct {
	ID          TableID
	NamespaceID NamespaceID
	Name        string
	Columns     map[string]ColumnType
}

// Partition is a time/space bucket of rows inside a table — the unit of
// compaction. SortKey may be extended by the core (spec §3 invariant 5:
// monotonic — columns may be appended, never reordered).
type Partition struct {
	ID           PartitionID
	ShardID      ShardID
	TableID      TableID
	PartitionKey string
	SortKey      []string
}

// File is an immutable on-disk (object-store) data file.
type File struct {
	ID                FileID
	PartitionID       PartitionID
	ObjectStoreID     uuid.UUID
	MinTime           time.Time
	MaxTime           time.Time
	MaxSequenceNumber int64
	RowCount          int64
	SizeBytes         int64
	ColumnSet         map[string]ColumnType
	CompactionLevel   CompactionLevel
	ToDelete          bool
	CreatedAt         time.Time
}

// Overlaps reports whether f's time range intersects o's time range
// (spec §3 invariant 1, §4.3 hot filter overlap test).
func (f *File) Overlaps(o *File) bool {
	return !f.MaxTime.Before(o.MinTime) && !o.MaxTime.Before(f.MinTime)
}

// Tombstone marks rows to be deleted on the next rewrite touching them.
type Tombstone struct {
	ID          TombstoneID
	TableID     TableID
	ShardID     ShardID
	SeqNumber   int64
	MinTime     time.Time
	MaxTime     time.Time
	Predicate   string
}

// ProcessedTombstone records that a tombstone has been applied to a
// partition's rewrite, so it is not re-applied on the next compaction.
type ProcessedTombstone struct {
	TombstoneID TombstoneID
	PartitionID PartitionID
}
