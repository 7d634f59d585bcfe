package catalogmem

import (
	"context"
	"sort"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

// --- unlocked implementations over *state, shared by every repo wrapper ---

func listByShard(s *state, shard catalog.ShardID) []*catalog.Partition {
	var out []*catalog.Partition
	for _, p := range s.partitions {
		if p.ShardID == shard {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func getPartition(s *state, id catalog.PartitionID) (*catalog.Partition, error) {
	p, ok := s.partitions[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func updateSortKey(s *state, id catalog.PartitionID, sortKey []string) error {
	p, ok := s.partitions[id]
	if !ok {
		return catalog.ErrNotFound
	}
	p.SortKey = append([]string(nil), sortKey...)
	return nil
}

func filesByPartitionNotToDelete(s *state, partition catalog.PartitionID) []*catalog.File {
	var out []*catalog.File
	for _, f := range s.files {
		if f.PartitionID == partition && !f.ToDelete {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return out
}

func filesByLevel(s *state, partition catalog.PartitionID, level catalog.CompactionLevel) []*catalog.File {
	var out []*catalog.File
	for _, f := range s.files {
		if f.PartitionID == partition && !f.ToDelete && f.CompactionLevel == level {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return out
}

// sortFiles orders by (max_sequence_number ASC, min_time ASC) per spec §4.2.
func sortFiles(files []*catalog.File) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].MaxSequenceNumber != files[j].MaxSequenceNumber {
			return files[i].MaxSequenceNumber < files[j].MaxSequenceNumber
		}
		return files[i].MinTime.Before(files[j].MinTime)
	})
}

func filesByTableNotToDelete(s *state, table catalog.TableID) []*catalog.File {
	var out []*catalog.File
	for _, f := range s.files {
		p, ok := s.partitions[f.PartitionID]
		if !ok || p.TableID != table || f.ToDelete {
			continue
		}
		out = append(out, f)
	}
	sortFiles(out)
	return out
}

func createFile(s *state, f *catalog.File) *catalog.File {
	cp := *f
	cp.ID = s.nextFileID
	s.nextFileID++
	s.files[cp.ID] = &cp
	out := *s.files[cp.ID]
	return &out
}

func flagForDelete(s *state, ids []catalog.FileID) error {
	for _, id := range ids {
		f, ok := s.files[id]
		if !ok {
			return catalog.ErrNotFound
		}
		f.ToDelete = true
	}
	return nil
}

func updateCompactionLevel(s *state, ids []catalog.FileID, level catalog.CompactionLevel) error {
	for _, id := range ids {
		f, ok := s.files[id]
		if !ok {
			return catalog.ErrNotFound
		}
		f.CompactionLevel = level
	}
	return nil
}

func tombstonesByTable(s *state, table catalog.TableID) []*catalog.Tombstone {
	var out []*catalog.Tombstone
	for _, t := range s.tombstones {
		if t.TableID == table {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func tombstonesByPartition(s *state, partition catalog.PartitionID) []*catalog.Tombstone {
	p, ok := s.partitions[partition]
	if !ok {
		return nil
	}
	return tombstonesByTable(s, p.TableID)
}

func createProcessedTombstone(s *state, pt *catalog.ProcessedTombstone) {
	s.processedTombstones = append(s.processedTombstones, pt)
}

func countProcessedByTombstoneID(s *state, id catalog.TombstoneID) int {
	n := 0
	for _, pt := range s.processedTombstones {
		if pt.TombstoneID == id {
			n++
		}
	}
	return n
}

func getTable(s *state, id catalog.TableID) (*catalog.Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return t, nil
}

func listColumns(s *state, table catalog.TableID) (map[string]catalog.ColumnType, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	out := make(map[string]catalog.ColumnType, len(t.Columns))
	for k, v := range t.Columns {
		out[k] = v
	}
	return out, nil
}

// Each wrapper type below operates either on the store's canonical state
// (store set, taking store.mu around each call) or on a txn's private
// clone (s set, no locking). It is bound to exactly one of store or s,
// never both.

// --- partitionRepo implements catalog.PartitionRepo ---

type partitionRepo struct {
	store *Store // set when store-backed; nil when txn-backed
	s     *state // set when txn-backed; nil when store-backed
}

func (r *partitionRepo) ListByShard(ctx context.Context, shard catalog.ShardID) ([]*catalog.Partition, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return listByShard(r.store.state, shard), nil
	}
	return listByShard(r.s, shard), nil
}

func (r *partitionRepo) GetByID(ctx context.Context, id catalog.PartitionID) (*catalog.Partition, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return getPartition(r.store.state, id)
	}
	return getPartition(r.s, id)
}

func (r *partitionRepo) UpdateSortKey(ctx context.Context, id catalog.PartitionID, sortKey []string) error {
	if r.store != nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		return updateSortKey(r.store.state, id, sortKey)
	}
	return updateSortKey(r.s, id, sortKey)
}

// --- fileRepo implements catalog.ParquetFileRepo ---

type fileRepo struct {
	store *Store
	s     *state
}

func (r *fileRepo) ListByPartitionNotToDelete(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return filesByPartitionNotToDelete(r.store.state, partition), nil
	}
	return filesByPartitionNotToDelete(r.s, partition), nil
}

func (r *fileRepo) Level0(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return filesByLevel(r.store.state, partition, catalog.LevelInitial), nil
	}
	return filesByLevel(r.s, partition, catalog.LevelInitial), nil
}

func (r *fileRepo) Level1(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return filesByLevel(r.store.state, partition, catalog.LevelFileNonOverlapped), nil
	}
	return filesByLevel(r.s, partition, catalog.LevelFileNonOverlapped), nil
}

func (r *fileRepo) ListByTableNotToDelete(ctx context.Context, table catalog.TableID) ([]*catalog.File, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return filesByTableNotToDelete(r.store.state, table), nil
	}
	return filesByTableNotToDelete(r.s, table), nil
}

func (r *fileRepo) Create(ctx context.Context, f *catalog.File) (*catalog.File, error) {
	if r.store != nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		return createFile(r.store.state, f), nil
	}
	return createFile(r.s, f), nil
}

func (r *fileRepo) FlagForDelete(ctx context.Context, ids []catalog.FileID) error {
	if r.store != nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		return flagForDelete(r.store.state, ids)
	}
	return flagForDelete(r.s, ids)
}

func (r *fileRepo) UpdateCompactionLevel(ctx context.Context, ids []catalog.FileID, level catalog.CompactionLevel) error {
	if r.store != nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		return updateCompactionLevel(r.store.state, ids, level)
	}
	return updateCompactionLevel(r.s, ids, level)
}

// --- tombstoneRepo implements catalog.TombstoneRepo ---

type tombstoneRepo struct {
	store *Store
	s     *state
}

func (r *tombstoneRepo) ListByTable(ctx context.Context, table catalog.TableID) ([]*catalog.Tombstone, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return tombstonesByTable(r.store.state, table), nil
	}
	return tombstonesByTable(r.s, table), nil
}

func (r *tombstoneRepo) ListByPartition(ctx context.Context, partition catalog.PartitionID) ([]*catalog.Tombstone, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return tombstonesByPartition(r.store.state, partition), nil
	}
	return tombstonesByPartition(r.s, partition), nil
}

// --- processedRepo implements catalog.ProcessedTombstoneRepo ---

type processedRepo struct {
	store *Store
	s     *state
}

func (r *processedRepo) Create(ctx context.Context, pt *catalog.ProcessedTombstone) error {
	if r.store != nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		createProcessedTombstone(r.store.state, pt)
		return nil
	}
	createProcessedTombstone(r.s, pt)
	return nil
}

func (r *processedRepo) CountByTombstoneID(ctx context.Context, id catalog.TombstoneID) (int, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return countProcessedByTombstoneID(r.store.state, id), nil
	}
	return countProcessedByTombstoneID(r.s, id), nil
}

// --- tableRepo implements catalog.TableRepo ---

type tableRepo struct {
	store *Store
	s     *state
}

func (r *tableRepo) GetByID(ctx context.Context, id catalog.TableID) (*catalog.Table, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return getTable(r.store.state, id)
	}
	return getTable(r.s, id)
}

// --- columnRepo implements catalog.ColumnRepo ---

type columnRepo struct {
	store *Store
	s     *state
}

func (r *columnRepo) ListByTableID(ctx context.Context, table catalog.TableID) (map[string]catalog.ColumnType, error) {
	if r.store != nil {
		r.store.mu.RLock()
		defer r.store.mu.RUnlock()
		return listColumns(r.store.state, table)
	}
	return listColumns(r.s, table)
}
