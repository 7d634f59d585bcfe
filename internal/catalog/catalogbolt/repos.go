package catalogbolt

import (
	"context"
	"encoding/json"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

func jsonUnmarshal(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
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

// --- partitionRepo ---

type partitionRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *partitionRepo) ListByShard(ctx context.Context, shard catalog.ShardID) ([]*catalog.Partition, error) {
	var out []*catalog.Partition
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPartitions).ForEach(func(_, v []byte) error {
			var p catalog.Partition
			if err := jsonUnmarshal(v, &p); err != nil {
				return err
			}
			if p.ShardID == shard {
				out = append(out, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByShard", Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *partitionRepo) GetByID(ctx context.Context, id catalog.PartitionID) (*catalog.Partition, error) {
	var p catalog.Partition
	var found bool
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketPartitions), itob(int64(id)), &p)
		return err
	})
	if err != nil {
		return nil, &catalog.Error{Op: "GetByID", Err: err}
	}
	if !found {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

func (r *partitionRepo) UpdateSortKey(ctx context.Context, id catalog.PartitionID, sortKey []string) error {
	err := update(r.db, r.tx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		var p catalog.Partition
		found, err := getJSON(b, itob(int64(id)), &p)
		if err != nil {
			return err
		}
		if !found {
			return catalog.ErrNotFound
		}
		p.SortKey = append([]string(nil), sortKey...)
		return putJSON(b, itob(int64(id)), &p)
	})
	if err == catalog.ErrNotFound {
		return err
	}
	if err != nil {
		return &catalog.Error{Op: "UpdateSortKey", Err: err}
	}
	return nil
}

// --- fileRepo ---

type fileRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *fileRepo) forEachFile(fn func(f *catalog.File) error) error {
	return view(r.db, r.tx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var f catalog.File
			if err := jsonUnmarshal(v, &f); err != nil {
				return err
			}
			return fn(&f)
		})
	})
}

func (r *fileRepo) ListByPartitionNotToDelete(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	var out []*catalog.File
	err := r.forEachFile(func(f *catalog.File) error {
		if f.PartitionID == partition && !f.ToDelete {
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByPartitionNotToDelete", Err: err}
	}
	sortFiles(out)
	return out, nil
}

func (r *fileRepo) byLevel(partition catalog.PartitionID, level catalog.CompactionLevel) ([]*catalog.File, error) {
	var out []*catalog.File
	err := r.forEachFile(func(f *catalog.File) error {
		if f.PartitionID == partition && !f.ToDelete && f.CompactionLevel == level {
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortFiles(out)
	return out, nil
}

func (r *fileRepo) Level0(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	out, err := r.byLevel(partition, catalog.LevelInitial)
	if err != nil {
		return nil, &catalog.Error{Op: "Level0", Err: err}
	}
	return out, nil
}

func (r *fileRepo) Level1(ctx context.Context, partition catalog.PartitionID) ([]*catalog.File, error) {
	out, err := r.byLevel(partition, catalog.LevelFileNonOverlapped)
	if err != nil {
		return nil, &catalog.Error{Op: "Level1", Err: err}
	}
	return out, nil
}

func (r *fileRepo) ListByTableNotToDelete(ctx context.Context, table catalog.TableID) ([]*catalog.File, error) {
	var out []*catalog.File
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		partitions := map[catalog.PartitionID]catalog.TableID{}
		if err := tx.Bucket(bucketPartitions).ForEach(func(_, v []byte) error {
			var p catalog.Partition
			if err := jsonUnmarshal(v, &p); err != nil {
				return err
			}
			partitions[p.ID] = p.TableID
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var f catalog.File
			if err := jsonUnmarshal(v, &f); err != nil {
				return err
			}
			if !f.ToDelete && partitions[f.PartitionID] == table {
				out = append(out, &f)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByTableNotToDelete", Err: err}
	}
	sortFiles(out)
	return out, nil
}

func (r *fileRepo) Create(ctx context.Context, f *catalog.File) (*catalog.File, error) {
	var created catalog.File
	err := update(r.db, r.tx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		created = *f
		created.ID = catalog.FileID(id)
		return putJSON(b, itob(int64(created.ID)), &created)
	})
	if err != nil {
		return nil, &catalog.Error{Op: "Create", Err: err}
	}
	return &created, nil
}

func (r *fileRepo) FlagForDelete(ctx context.Context, ids []catalog.FileID) error {
	err := update(r.db, r.tx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		for _, id := range ids {
			var f catalog.File
			found, err := getJSON(b, itob(int64(id)), &f)
			if err != nil {
				return err
			}
			if !found {
				return catalog.ErrNotFound
			}
			f.ToDelete = true
			if err := putJSON(b, itob(int64(id)), &f); err != nil {
				return err
			}
		}
		return nil
	})
	if err == catalog.ErrNotFound {
		return err
	}
	if err != nil {
		return &catalog.Error{Op: "FlagForDelete", Err: err}
	}
	return nil
}

func (r *fileRepo) UpdateCompactionLevel(ctx context.Context, ids []catalog.FileID, level catalog.CompactionLevel) error {
	err := update(r.db, r.tx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		for _, id := range ids {
			var f catalog.File
			found, err := getJSON(b, itob(int64(id)), &f)
			if err != nil {
				return err
			}
			if !found {
				return catalog.ErrNotFound
			}
			f.CompactionLevel = level
			if err := putJSON(b, itob(int64(id)), &f); err != nil {
				return err
			}
		}
		return nil
	})
	if err == catalog.ErrNotFound {
		return err
	}
	if err != nil {
		return &catalog.Error{Op: "UpdateCompactionLevel", Err: err}
	}
	return nil
}

// --- tombstoneRepo ---

type tombstoneRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *tombstoneRepo) ListByTable(ctx context.Context, table catalog.TableID) ([]*catalog.Tombstone, error) {
	var out []*catalog.Tombstone
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTombstones).ForEach(func(_, v []byte) error {
			var t catalog.Tombstone
			if err := jsonUnmarshal(v, &t); err != nil {
				return err
			}
			if t.TableID == table {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByTable", Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *tombstoneRepo) ListByPartition(ctx context.Context, partition catalog.PartitionID) ([]*catalog.Tombstone, error) {
	var tableID catalog.TableID
	var ok bool
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		var p catalog.Partition
		found, err := getJSON(tx.Bucket(bucketPartitions), itob(int64(partition)), &p)
		if err != nil {
			return err
		}
		ok = found
		tableID = p.TableID
		return nil
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByPartition", Err: err}
	}
	if !ok {
		return nil, nil
	}
	return r.ListByTable(ctx, tableID)
}

// --- processedRepo ---

type processedRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *processedRepo) Create(ctx context.Context, pt *catalog.ProcessedTombstone) error {
	err := update(r.db, r.tx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProcessed)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		return putJSON(b, itob(int64(id)), pt)
	})
	if err != nil {
		return &catalog.Error{Op: "Create", Err: err}
	}
	return nil
}

func (r *processedRepo) CountByTombstoneID(ctx context.Context, id catalog.TombstoneID) (int, error) {
	n := 0
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProcessed).ForEach(func(_, v []byte) error {
			var pt catalog.ProcessedTombstone
			if err := jsonUnmarshal(v, &pt); err != nil {
				return err
			}
			if pt.TombstoneID == id {
				n++
			}
			return nil
		})
	})
	if err != nil {
		return 0, &catalog.Error{Op: "CountByTombstoneID", Err: err}
	}
	return n, nil
}

// --- tableRepo ---

type tableRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *tableRepo) GetByID(ctx context.Context, id catalog.TableID) (*catalog.Table, error) {
	var t catalog.Table
	var found bool
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketTables), itob(int64(id)), &t)
		return err
	})
	if err != nil {
		return nil, &catalog.Error{Op: "GetByID", Err: err}
	}
	if !found {
		return nil, catalog.ErrNotFound
	}
	return &t, nil
}

// --- columnRepo ---

type columnRepo struct {
	db *bbolt.DB
	tx *bbolt.Tx
}

func (r *columnRepo) ListByTableID(ctx context.Context, table catalog.TableID) (map[string]catalog.ColumnType, error) {
	var t catalog.Table
	var found bool
	err := view(r.db, r.tx, func(tx *bbolt.Tx) error {
		var err error
		found, err = getJSON(tx.Bucket(bucketTables), itob(int64(table)), &t)
		return err
	})
	if err != nil {
		return nil, &catalog.Error{Op: "ListByTableID", Err: err}
	}
	if !found {
		return nil, catalog.ErrNotFound
	}
	return t.Columns, nil
}
