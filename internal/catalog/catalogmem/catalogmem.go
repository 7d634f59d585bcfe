// Package catalogmem is an in-memory implementation of catalog.Repository,
// guarded by a single mutex so that write transactions are serialized the
// way spec §5 requires of the real catalog. It has no durability and
// exists for tests and single-process demos that don't need a bbolt file
// on disk (see catalogbolt for that).
package catalogmem

import (
	"context"
	"sync"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

type state struct {
	namespaces          map[catalog.NamespaceID]*catalog.Namespace
	tables              map[catalog.TableID]*catalog.Table
	partitions          map[catalog.PartitionID]*catalog.Partition
	files               map[catalog.FileID]*catalog.File
	tombstones          map[catalog.TombstoneID]*catalog.Tombstone
	processedTombstones []*catalog.ProcessedTombstone
	nextFileID          catalog.FileID
}

func newState() *state {
	return &state{
		namespaces: make(map[catalog.NamespaceID]*catalog.Namespace),
		tables:     make(map[catalog.TableID]*catalog.Table),
		partitions: make(map[catalog.PartitionID]*catalog.Partition),
		files:      make(map[catalog.FileID]*catalog.File),
		tombstones: make(map[catalog.TombstoneID]*catalog.Tombstone),
	}
}

func (s *state) clone() *state {
	c := &state{
		namespaces:          make(map[catalog.NamespaceID]*catalog.Namespace, len(s.namespaces)),
		tables:              make(map[catalog.TableID]*catalog.Table, len(s.tables)),
		partitions:          make(map[catalog.PartitionID]*catalog.Partition, len(s.partitions)),
		files:               make(map[catalog.FileID]*catalog.File, len(s.files)),
		tombstones:          make(map[catalog.TombstoneID]*catalog.Tombstone, len(s.tombstones)),
		processedTombstones: append([]*catalog.ProcessedTombstone(nil), s.processedTombstones...),
		nextFileID:          s.nextFileID,
	}
	for k, v := range s.namespaces {
		cp := *v
		c.namespaces[k] = &cp
	}
	for k, v := range s.tables {
		cp := *v
		c.tables[k] = &cp
	}
	for k, v := range s.partitions {
		cp := *v
		cp.SortKey = append([]string(nil), v.SortKey...)
		c.partitions[k] = &cp
	}
	for k, v := range s.files {
		cp := *v
		c.files[k] = &cp
	}
	for k, v := range s.tombstones {
		cp := *v
		c.tombstones[k] = &cp
	}
	return c
}

// Store is the in-memory catalog. The zero value is not usable; use New.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// New creates an empty in-memory catalog.
func New() *Store {
	return &Store{state: newState()}
}

// Seed installs fixtures directly, bypassing transactions. Intended for
// test setup only.
func (s *Store) Seed(fn func(sd *Seeder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Seeder{s: s.state})
}

// Seeder is the mutation surface handed to Seed's callback.
type Seeder struct{ s *state }

func (sd *Seeder) PutNamespace(n *catalog.Namespace) { sd.s.namespaces[n.ID] = n }
func (sd *Seeder) PutTable(t *catalog.Table)         { sd.s.tables[t.ID] = t }
func (sd *Seeder) PutPartition(p *catalog.Partition) { sd.s.partitions[p.ID] = p }
func (sd *Seeder) PutTombstone(t *catalog.Tombstone) { sd.s.tombstones[t.ID] = t }
func (sd *Seeder) PutFile(f *catalog.File) {
	sd.s.files[f.ID] = f
	if f.ID >= sd.s.nextFileID {
		sd.s.nextFileID = f.ID + 1
	}
}

// Each repo interface is implemented by a pair of small wrapper types: one
// bound to the store (locks per call, operates on canonical state) and one
// bound to a txn's private clone (no locking; BeginTxn already holds the
// store exclusively for the transaction's lifetime).

func (s *Store) Partitions() catalog.PartitionRepo                   { return &partitionRepo{store: s} }
func (s *Store) ParquetFiles() catalog.ParquetFileRepo                { return &fileRepo{store: s} }
func (s *Store) Tombstones() catalog.TombstoneRepo                    { return &tombstoneRepo{store: s} }
func (s *Store) ProcessedTombstones() catalog.ProcessedTombstoneRepo   { return &processedRepo{store: s} }
func (s *Store) Tables() catalog.TableRepo                            { return &tableRepo{store: s} }
func (s *Store) Columns() catalog.ColumnRepo                          { return &columnRepo{store: s} }

// BeginTxn locks the store for exclusive write access and hands back a
// Txn operating on a private clone of the state, committed atomically by
// Commit or discarded by Rollback. This serializes concurrent write
// transactions the way spec §5 requires of the catalog, and makes the
// catalog swap in spec §4.5 step 5 a single atomic unit.
func (s *Store) BeginTxn(ctx context.Context) (catalog.Txn, error) {
	s.mu.Lock()
	clone := s.state.clone()
	return &txn{store: s, state: clone}, nil
}

type txn struct {
	store *Store
	state *state
	done  bool
}

func (t *txn) Partitions() catalog.PartitionRepo                   { return &partitionRepo{s: t.state} }
func (t *txn) ParquetFiles() catalog.ParquetFileRepo                { return &fileRepo{s: t.state} }
func (t *txn) Tombstones() catalog.TombstoneRepo                    { return &tombstoneRepo{s: t.state} }
func (t *txn) ProcessedTombstones() catalog.ProcessedTombstoneRepo  { return &processedRepo{s: t.state} }
func (t *txn) Tables() catalog.TableRepo                            { return &tableRepo{s: t.state} }
func (t *txn) Columns() catalog.ColumnRepo                          { return &columnRepo{s: t.state} }

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.state = t.state
	t.store.mu.Unlock()
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
