package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by get-by-id style lookups when the entity does
// not exist (or has vanished — e.g. a partition dropped by retention
// between selection and lookup).
var ErrNotFound = errors.New("catalog: not found")

// Error wraps a failure from the catalog's underlying transport (spec
// §6.1: "all methods are async, fail with CatalogError").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "catalog: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// PartitionRepo is the narrow slice of the catalog the core needs for
// partition metadata and sort-key evolution.
type PartitionRepo interface {
	ListByShard(ctx context.Context, shard ShardID) ([]*Partition, error)
	GetByID(ctx context.Context, id PartitionID) (*Partition, error)
	UpdateSortKey(ctx context.Context, id PartitionID, sortKey []string) error
}

// ParquetFileRepo is the narrow slice of the catalog the core needs for
// file metadata, grouped the way spec §4.2/§4.5 need it.
type ParquetFileRepo interface {
	ListByPartitionNotToDelete(ctx context.Context, partition PartitionID) ([]*File, error)
	Level0(ctx context.Context, partition PartitionID) ([]*File, error)
	Level1(ctx context.Context, partition PartitionID) ([]*File, error)
	ListByTableNotToDelete(ctx context.Context, table TableID) ([]*File, error)
	Create(ctx context.Context, f *File) (*File, error)
	FlagForDelete(ctx context.Context, ids []FileID) error
	UpdateCompactionLevel(ctx context.Context, ids []FileID, level CompactionLevel) error
}

// TombstoneRepo exposes the tombstones a combine must apply.
type TombstoneRepo interface {
	ListByTable(ctx context.Context, table TableID) ([]*Tombstone, error)
	ListByPartition(ctx context.Context, partition PartitionID) ([]*Tombstone, error)
}

// ProcessedTombstoneRepo tracks which tombstones have already been
// applied to which partitions.
type ProcessedTombstoneRepo interface {
	Create(ctx context.Context, pt *ProcessedTombstone) error
	CountByTombstoneID(ctx context.Context, id TombstoneID) (int, error)
}

// TableRepo exposes table metadata.
type TableRepo interface {
	GetByID(ctx context.Context, id TableID) (*Table, error)
}

// ColumnRepo exposes column metadata (column-type counts used by the hot
// filter's memory estimate, spec §4.3).
type ColumnRepo interface {
	ListByTableID(ctx context.Context, table TableID) (map[string]ColumnType, error)
}

// Txn is one catalog transaction, composing every repository the core
// touches (spec §6.1: "compose into transactions via repositories()").
// All repository calls made through a single Txn are part of the same
// atomic unit; Commit makes them visible, Rollback discards them.
type Txn interface {
	Partitions() PartitionRepo
	ParquetFiles() ParquetFileRepo
	Tombstones() TombstoneRepo
	ProcessedTombstones() ProcessedTombstoneRepo
	Tables() TableRepo
	Columns() ColumnRepo
	Commit() error
	Rollback() error
}

// Repository is the catalog entry point: every read the core does outside
// of an explicit write transaction goes through the repositories
// returned here, and every write goes through a Txn obtained via
// BeginTxn, so the catalog swap in spec §4.5 step 5 is one atomic unit.
type Repository interface {
	Partitions() PartitionRepo
	ParquetFiles() ParquetFileRepo
	Tombstones() TombstoneRepo
	ProcessedTombstones() ProcessedTombstoneRepo
	Tables() TableRepo
	Columns() ColumnRepo

	// BeginTxn starts a new transaction. The returned Txn must be
	// Commit()ed or Rollback()ed exactly once.
	BeginTxn(ctx context.Context) (Txn, error)
}
