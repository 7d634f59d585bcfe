package catalogmem

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

func seedBasic(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.Seed(func(sd *Seeder) {
		sd.PutNamespace(&catalog.Namespace{ID: 1, Name: "ns", Retention: 0})
		sd.PutTable(&catalog.Table{ID: 1, NamespaceID: 1, Name: "cpu", Columns: map[string]catalog.ColumnType{
			"host": catalog.ColumnTypeTag,
			"time": catalog.ColumnTypeTime,
		}})
		sd.PutPartition(&catalog.Partition{ID: 1, ShardID: 1, TableID: 1, PartitionKey: "2021-01-01", SortKey: []string{"host", "time"}})
		sd.PutFile(&catalog.File{
			ID: 1, PartitionID: 1, ObjectStoreID: uuid.New(),
			MinTime: time.Unix(0, 1000), MaxTime: time.Unix(0, 2000),
			MaxSequenceNumber: 5, RowCount: 10, SizeBytes: 1024,
			CompactionLevel: catalog.LevelInitial,
		})
	})
	return s
}

func TestStore_ReadsOutsideTxn(t *testing.T) {
	ctx := context.Background()
	s := seedBasic(t)

	parts, err := s.Partitions().ListByShard(ctx, 1)
	if err != nil || len(parts) != 1 {
		t.Fatalf("ListByShard: %v, %d", err, len(parts))
	}

	files, err := s.ParquetFiles().Level0(ctx, 1)
	if err != nil || len(files) != 1 {
		t.Fatalf("Level0: %v, %d", err, len(files))
	}

	tbl, err := s.Tables().GetByID(ctx, 1)
	if err != nil || tbl.Name != "cpu" {
		t.Fatalf("GetByID: %v, %+v", err, tbl)
	}

	cols, err := s.Columns().ListByTableID(ctx, 1)
	if err != nil || len(cols) != 2 {
		t.Fatalf("ListByTableID: %v, %d", err, len(cols))
	}
}

func TestTxn_CommitIsAtomicAndVisible(t *testing.T) {
	ctx := context.Background()
	s := seedBasic(t)

	txn, err := s.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	created, err := txn.ParquetFiles().Create(ctx, &catalog.File{
		PartitionID: 1, ObjectStoreID: uuid.New(),
		MinTime: time.Unix(0, 2000), MaxTime: time.Unix(0, 3000),
		MaxSequenceNumber: 6, RowCount: 5, SizeBytes: 512,
		CompactionLevel: catalog.LevelFileNonOverlapped,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.ParquetFiles().FlagForDelete(ctx, []catalog.FileID{1}); err != nil {
		t.Fatal(err)
	}

	// Not visible outside the txn before commit. The open txn holds the
	// store's write lock, so the canonical state is read directly rather
	// than through the store-backed repo (which would block on that lock).
	files := filesByPartitionNotToDelete(s.state, 1)
	if len(files) != 1 || files[0].ID != 1 {
		t.Fatalf("pre-commit visibility leaked: %+v", files)
	}

	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	files, _ = s.ParquetFiles().ListByPartitionNotToDelete(ctx, 1)
	if len(files) != 1 || files[0].ID != created.ID {
		t.Fatalf("post-commit state wrong: %+v", files)
	}
}

func TestTxn_RollbackDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := seedBasic(t)

	txn, err := s.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := txn.ParquetFiles().FlagForDelete(ctx, []catalog.FileID{1}); err != nil {
		t.Fatal(err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatal(err)
	}

	files, _ := s.ParquetFiles().ListByPartitionNotToDelete(ctx, 1)
	if len(files) != 1 {
		t.Fatalf("rollback leaked changes: %+v", files)
	}

	// A fresh txn must be obtainable after rollback releases the lock.
	txn2, err := s.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = txn2.Rollback()
}

func TestFilesByLevel_SortOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(func(sd *Seeder) {
		sd.PutPartition(&catalog.Partition{ID: 1, ShardID: 1, TableID: 1})
		sd.PutFile(&catalog.File{ID: 10, PartitionID: 1, MaxSequenceNumber: 9, MinTime: time.Unix(0, 500), CompactionLevel: catalog.LevelInitial})
		sd.PutFile(&catalog.File{ID: 11, PartitionID: 1, MaxSequenceNumber: 3, MinTime: time.Unix(0, 100), CompactionLevel: catalog.LevelInitial})
		sd.PutFile(&catalog.File{ID: 12, PartitionID: 1, MaxSequenceNumber: 3, MinTime: time.Unix(0, 50), CompactionLevel: catalog.LevelInitial})
	})

	files, err := s.ParquetFiles().Level0(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0].ID != 12 || files[1].ID != 11 || files[2].ID != 10 {
		ids := make([]catalog.FileID, len(files))
		for i, f := range files {
			ids[i] = f.ID
		}
		t.Fatalf("sort order wrong: %v", ids)
	}
}

func TestProcessedTombstones_CountByTombstoneID(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(func(sd *Seeder) {
		sd.PutTombstone(&catalog.Tombstone{ID: 1, TableID: 1})
	})

	if n, _ := s.ProcessedTombstones().CountByTombstoneID(ctx, 1); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
	if err := s.ProcessedTombstones().Create(ctx, &catalog.ProcessedTombstone{TombstoneID: 1, PartitionID: 1}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.ProcessedTombstones().CountByTombstoneID(ctx, 1); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Partitions().GetByID(ctx, 999); err != catalog.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.Tables().GetByID(ctx, 999); err != catalog.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
