package combiner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/catalog/catalogmem"
	"github.com/aalhour/tsdbcompactor/internal/engine"
	"github.com/aalhour/tsdbcompactor/internal/filefilter"
	"github.com/aalhour/tsdbcompactor/internal/filelookup"
	"github.com/aalhour/tsdbcompactor/internal/objectstore"
	"github.com/aalhour/tsdbcompactor/internal/objectstore/fsstore"
)

// ctxCheckingStore wraps a Store so Get fails deterministically against
// an already-cancelled context, instead of relying on the engine's
// select-based cancellation racing a ready buffered channel send.
type ctxCheckingStore struct{ objectstore.Store }

func (s ctxCheckingStore) Get(ctx context.Context, path objectstore.Path) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, path)
}

// fixedIDs returns a NewObjectID generator that always returns the next
// id in the given sequence, so output paths are deterministic in tests.
func fixedIDs(ids ...uuid.UUID) func() uuid.UUID {
	i := 0
	return func() uuid.UUID {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestDeps(t *testing.T, cat catalog.Repository) Deps {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return Deps{
		Catalog: cat,
		Objects: store,
		Config: Config{
			MaxDesiredFileSizeBytes:     100 * 1024 * 1024,
			PercentageMaxFileSize:       100,
			SplitPercentage:             80,
			ColdMaxDesiredFileSizeBytes: 100 * 1024 * 1024,
		},
		NewObjectID: fixedIDs(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		Now:         func() time.Time { return time.Unix(0, 0) },
	}
}

func putBatch(t *testing.T, d Deps, table *catalog.Table, partition *catalog.Partition, objID uuid.UUID, rows []engine.Row) {
	t.Helper()
	data, err := engine.EncodeBatch(&engine.Batch{Rows: rows})
	if err != nil {
		t.Fatal(err)
	}
	p := path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, objID)
	if err := d.Objects.Put(context.Background(), p, data); err != nil {
		t.Fatal(err)
	}
}

func mustUUID(s string) uuid.UUID { return uuid.MustParse(s) }

// TestCombine_HotMergeDedup grounds an S1-style scenario in the
// fixture data from the original IOx compactor's hot-partition test: two
// overlapping L0 files (pf2, pf3) share a duplicate row at
// tag1=WA,time=8000 where pf3 (max_seq=10) must win over pf2 (max_seq=5)
// with field_int=1500, not 1000. The split itself is covered by
// TestCombine_S1HotSixFileFixture.
func TestCombine_HotMergeDedup(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()

	table := &catalog.Table{
		ID: 1, NamespaceID: 1, Name: "table",
		Columns: map[string]catalog.ColumnType{
			"field_int": catalog.ColumnTypeI64,
			"tag1":      catalog.ColumnTypeTag,
		},
	}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1, SortKey: []string{"tag1"}}

	objPf2 := mustUUID("00000000-0000-0000-0000-0000000000f2")
	objPf3 := mustUUID("00000000-0000-0000-0000-0000000000f3")

	pf2 := &catalog.File{
		ID: 2, PartitionID: 1, ObjectStoreID: objPf2,
		MinTime: time.Unix(0, 8000), MaxTime: time.Unix(0, 20000),
		MaxSequenceNumber: 5, RowCount: 3, SizeBytes: 100,
		ColumnSet:       map[string]catalog.ColumnType{"field_int": catalog.ColumnTypeI64, "tag1": catalog.ColumnTypeTag},
		CompactionLevel: catalog.LevelInitial,
	}
	pf3 := &catalog.File{
		ID: 3, PartitionID: 1, ObjectStoreID: objPf3,
		MinTime: time.Unix(0, 6000), MaxTime: time.Unix(0, 25000),
		MaxSequenceNumber: 10, RowCount: 3, SizeBytes: 100,
		ColumnSet:       map[string]catalog.ColumnType{"field_int": catalog.ColumnTypeI64, "tag1": catalog.ColumnTypeTag},
		CompactionLevel: catalog.LevelInitial,
	}

	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(pf2)
		sd.PutFile(pf3)
	})

	d := newTestDeps(t, cat)

	// pf2 (lp2): tag1=WA@8000 field_int=1000 (eliminated duplicate),
	// tag1=VT@10000, tag1=UT@20000.
	putBatch(t, d, table, partition, objPf2, []engine.Row{
		{Tags: map[string]string{"tag1": "WA"}, Time: 8000, Fields: map[string]interface{}{"field_int": int64(1000)}},
		{Tags: map[string]string{"tag1": "VT"}, Time: 10000, Fields: map[string]interface{}{"field_int": int64(10)}},
		{Tags: map[string]string{"tag1": "UT"}, Time: 20000, Fields: map[string]interface{}{"field_int": int64(70)}},
	})
	// pf3 (lp3): tag1=WA@8000 field_int=1500 (the surviving duplicate),
	// tag1=VT@6000, tag1=UT@25000.
	putBatch(t, d, table, partition, objPf3, []engine.Row{
		{Tags: map[string]string{"tag1": "WA"}, Time: 8000, Fields: map[string]interface{}{"field_int": int64(1500)}},
		{Tags: map[string]string{"tag1": "VT"}, Time: 6000, Fields: map[string]interface{}{"field_int": int64(10)}},
		{Tags: map[string]string{"tag1": "UT"}, Time: 25000, Fields: map[string]interface{}{"field_int": int64(270)}},
	})

	filtered := filefilter.Filtered{
		Partition:   partition,
		Files:       []*catalog.File{pf2, pf3},
		TargetLevel: catalog.LevelFileNonOverlapped,
	}

	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if result.Promoted {
		t.Fatal("expected a rewrite, not a promotion, for two overlapping files")
	}
	if len(result.OutputFiles) == 0 {
		t.Fatal("expected at least one output file")
	}

	// Read every output back and find the WA@8000 row.
	var gotFieldInt interface{}
	found := false
	for _, out := range result.OutputFiles {
		p := path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, out.ObjectStoreID)
		data, err := d.Objects.Get(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := engine.DecodeBatch(data)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range batch.Rows {
			if r.Tags["tag1"] == "WA" && r.Time == 8000 {
				gotFieldInt = r.Fields["field_int"]
				found = true
			}
		}
	}
	if !found {
		t.Fatal("tag1=WA,time=8000 row missing from output")
	}
	if gotFieldInt != float64(1500) {
		t.Fatalf("tag1=WA,time=8000 field_int = %v, want 1500 (pf3's row must win over pf2's)", gotFieldInt)
	}

	// The inputs must be flagged to-delete and the partition's sort key
	// must still start with tag1 (spec §3 invariant 5: monotonic).
	files, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if f.ID == pf2.ID || f.ID == pf3.ID {
			t.Fatalf("input file %d still live after combine", f.ID)
		}
	}
	got, err := cat.Partitions().GetByID(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.SortKey) == 0 || got.SortKey[0] != "tag1" {
		t.Fatalf("sort key = %v, want to still start with tag1", got.SortKey)
	}
}

// TestCombine_SingletonPromotionSkipsRewrite grounds the spec's Open
// Question resolution: a lone non-overlapping L0 file is promoted to L1
// in the catalog with no bytes rewritten, even though the filter never
// checked it against L1 files that were not selected.
func TestCombine_SingletonPromotionSkipsRewrite(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()

	table := &catalog.Table{ID: 1, NamespaceID: 1, Columns: map[string]catalog.ColumnType{}}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}
	objID := mustUUID("00000000-0000-0000-0000-0000000000f1")
	pf1 := &catalog.File{
		ID: 1, PartitionID: 1, ObjectStoreID: objID,
		MinTime: time.Unix(0, 10), MaxTime: time.Unix(0, 20),
		MaxSequenceNumber: 3, RowCount: 2, SizeBytes: 1 << 20,
		CompactionLevel: catalog.LevelInitial,
	}
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(pf1)
	})
	d := newTestDeps(t, cat)

	filtered := filefilter.Filtered{Partition: partition, Files: []*catalog.File{pf1}, TargetLevel: catalog.LevelFileNonOverlapped}
	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Promoted {
		t.Fatal("expected promotion path")
	}
	if len(result.OutputFiles) != 0 {
		t.Fatalf("promotion must not write output files, got %d", len(result.OutputFiles))
	}

	got, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != pf1.ID || got[0].CompactionLevel != catalog.LevelFileNonOverlapped {
		t.Fatalf("expected pf1 promoted in place, got %+v", got)
	}
	// No new object written to the store for a promoted file.
	_, err = d.Objects.Get(ctx, path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, d.NewObjectID()))
	if err == nil {
		t.Fatal("expected no fresh object for a pure promotion")
	}
}

// TestCombine_ColdFullCompactionTargetsL2 exercises a cold-pool full
// compaction across a mix of deduplicated rows and checks the result
// lands at L2 with the inputs flagged to-delete (spec §4.5 step 3).
func TestCombine_ColdFullCompactionTargetsL2(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()

	table := &catalog.Table{ID: 1, NamespaceID: 1, Columns: map[string]catalog.ColumnType{
		"field_int": catalog.ColumnTypeI64, "tag1": catalog.ColumnTypeTag,
	}}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1, SortKey: []string{"tag1"}}

	objA := mustUUID("00000000-0000-0000-0000-0000000000a1")
	objB := mustUUID("00000000-0000-0000-0000-0000000000a2")
	fa := &catalog.File{
		ID: 1, PartitionID: 1, ObjectStoreID: objA,
		MinTime: time.Unix(0, 0), MaxTime: time.Unix(0, 100),
		MaxSequenceNumber: 1, RowCount: 1, SizeBytes: 100,
		ColumnSet:       map[string]catalog.ColumnType{"tag1": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64},
		CompactionLevel: catalog.LevelInitial,
	}
	fb := &catalog.File{
		ID: 2, PartitionID: 1, ObjectStoreID: objB,
		MinTime: time.Unix(0, 50), MaxTime: time.Unix(0, 150),
		MaxSequenceNumber: 2, RowCount: 1, SizeBytes: 100,
		ColumnSet:       map[string]catalog.ColumnType{"tag1": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64},
		CompactionLevel: catalog.LevelInitial,
	}
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(fa)
		sd.PutFile(fb)
	})
	d := newTestDeps(t, cat)

	putBatch(t, d, table, partition, objA, []engine.Row{
		{Tags: map[string]string{"tag1": "A"}, Time: 10, Fields: map[string]interface{}{"field_int": int64(1)}},
	})
	putBatch(t, d, table, partition, objB, []engine.Row{
		{Tags: map[string]string{"tag1": "B"}, Time: 60, Fields: map[string]interface{}{"field_int": int64(2)}},
	})

	filtered := filefilter.Filtered{Partition: partition, Files: []*catalog.File{fa, fb}, TargetLevel: catalog.LevelFinal}
	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.OutputFiles) != 1 {
		t.Fatalf("expected a single L2 output, got %d", len(result.OutputFiles))
	}
	if result.OutputFiles[0].CompactionLevel != catalog.LevelFinal {
		t.Fatalf("target level = %v, want L2", result.OutputFiles[0].CompactionLevel)
	}
	if result.OutputFiles[0].RowCount != 2 {
		t.Fatalf("row count = %d, want 2 (no rows should be dropped)", result.OutputFiles[0].RowCount)
	}
}

// TestCombine_EmptyOutputStillFlagsInputsDeleted covers the edge case
// where every input row is deduplicated away (e.g. entirely tombstoned
// upstream by the time combine runs): no output file is written, but
// the inputs are still retired.
func TestCombine_EmptyOutputStillFlagsInputsDeleted(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()

	table := &catalog.Table{ID: 1, NamespaceID: 1, Columns: map[string]catalog.ColumnType{"tag1": catalog.ColumnTypeTag}}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}
	objA := mustUUID("00000000-0000-0000-0000-0000000000b1")
	objB := mustUUID("00000000-0000-0000-0000-0000000000b2")
	fa := &catalog.File{ID: 1, PartitionID: 1, ObjectStoreID: objA, MaxSequenceNumber: 1, RowCount: 1, SizeBytes: 10, CompactionLevel: catalog.LevelInitial}
	fb := &catalog.File{ID: 2, PartitionID: 1, ObjectStoreID: objB, MaxSequenceNumber: 2, RowCount: 1, SizeBytes: 10, CompactionLevel: catalog.LevelInitial}
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(fa)
		sd.PutFile(fb)
	})
	d := newTestDeps(t, cat)
	putBatch(t, d, table, partition, objA, nil)
	putBatch(t, d, table, partition, objB, nil)

	filtered := filefilter.Filtered{Partition: partition, Files: []*catalog.File{fa, fb}, TargetLevel: catalog.LevelFinal}
	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.OutputFiles) != 0 {
		t.Fatalf("expected no output files, got %d", len(result.OutputFiles))
	}
	files, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("expected both inputs flagged to-delete, %d still live", len(files))
	}
}

// TestCombine_CancellationPropagates confirms a cancelled context aborts
// the combine instead of writing partial output (spec §9 cancellation
// safety scenario).
func TestCombine_CancellationPropagates(t *testing.T) {
	cat := catalogmem.New()
	table := &catalog.Table{ID: 1, NamespaceID: 1, Columns: map[string]catalog.ColumnType{}}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}
	objA := mustUUID("00000000-0000-0000-0000-0000000000c1")
	objB := mustUUID("00000000-0000-0000-0000-0000000000c2")
	fa := &catalog.File{ID: 1, PartitionID: 1, ObjectStoreID: objA, MaxSequenceNumber: 1, RowCount: 1, SizeBytes: 10, CompactionLevel: catalog.LevelInitial}
	fb := &catalog.File{ID: 2, PartitionID: 1, ObjectStoreID: objB, MaxSequenceNumber: 2, RowCount: 1, SizeBytes: 10, CompactionLevel: catalog.LevelInitial}
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(fa)
		sd.PutFile(fb)
	})
	d := newTestDeps(t, cat)
	putBatch(t, d, table, partition, objA, []engine.Row{{Tags: map[string]string{}, Time: 1}})
	putBatch(t, d, table, partition, objB, []engine.Row{{Tags: map[string]string{}, Time: 2}})
	d.Objects = ctxCheckingStore{d.Objects}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	filtered := filefilter.Filtered{Partition: partition, Files: []*catalog.File{fa, fb}, TargetLevel: catalog.LevelFinal}
	_, err := Combine(ctx, d, table, filtered)
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}

	files, err := cat.ParquetFiles().ListByPartitionNotToDelete(context.Background(), partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("cancelled combine must not touch the catalog, got %d live files", len(files))
	}
}

// sixFileFixtureTable is the table backing sixFileFixture: one field
// column and the three tag columns the fixture's two row families use.
func sixFileFixtureTable() *catalog.Table {
	return &catalog.Table{
		ID: 1, NamespaceID: 1, Name: "table",
		Columns: map[string]catalog.ColumnType{
			"field_int": catalog.ColumnTypeI64,
			"tag1":      catalog.ColumnTypeTag,
			"tag2":      catalog.ColumnTypeTag,
			"tag3":      catalog.ColumnTypeTag,
		},
	}
}

// sixFileFixture reconstructs the six source files from the original
// IOx compactor's many-files partition test (lp1-lp6/pf1-pf6): four L0
// files and two already-compacted L1 files, with one duplicate row
// (tag1=WA, time=8000) that pf3 (max_seq=10) must win over pf2
// (max_seq=5). maxDesiredFileSizeBytes sizes pf1 so a hot combine of
// pf1-pf5 lands just over the single-output threshold and splits.
func sixFileFixture(maxDesiredFileSizeBytes int64) (pf1, pf2, pf3, pf4, pf5, pf6 *catalog.File) {
	tag1Cols := map[string]catalog.ColumnType{"tag1": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64}
	tag23Cols := map[string]catalog.ColumnType{"tag2": catalog.ColumnTypeTag, "tag3": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64}

	pf1 = &catalog.File{
		ID: 1, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f1"),
		MinTime: time.Unix(0, 10), MaxTime: time.Unix(0, 20),
		MaxSequenceNumber: 3, RowCount: 2, SizeBytes: maxDesiredFileSizeBytes + 10,
		ColumnSet: tag1Cols, CompactionLevel: catalog.LevelInitial,
	}
	pf2 = &catalog.File{
		ID: 2, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f2"),
		MinTime: time.Unix(0, 8000), MaxTime: time.Unix(0, 20000),
		MaxSequenceNumber: 5, RowCount: 3, SizeBytes: 100,
		ColumnSet: tag1Cols, CompactionLevel: catalog.LevelInitial,
	}
	pf3 = &catalog.File{
		ID: 3, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f3"),
		MinTime: time.Unix(0, 6000), MaxTime: time.Unix(0, 25000),
		MaxSequenceNumber: 10, RowCount: 3, SizeBytes: 100,
		ColumnSet: tag1Cols, CompactionLevel: catalog.LevelInitial,
	}
	pf4 = &catalog.File{
		ID: 4, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f4"),
		MinTime: time.Unix(0, 26000), MaxTime: time.Unix(0, 28000),
		MaxSequenceNumber: 18, RowCount: 2, SizeBytes: 100,
		ColumnSet: tag23Cols, CompactionLevel: catalog.LevelInitial,
	}
	pf5 = &catalog.File{
		ID: 5, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f5"),
		MinTime: time.Unix(0, 9), MaxTime: time.Unix(0, 25),
		MaxSequenceNumber: 1, RowCount: 2, SizeBytes: 100,
		ColumnSet: tag23Cols, CompactionLevel: catalog.LevelFileNonOverlapped,
	}
	pf6 = &catalog.File{
		ID: 6, PartitionID: 1, ObjectStoreID: mustUUID("00000000-0000-0000-0000-0000000000f6"),
		MinTime: time.Unix(0, 90000), MaxTime: time.Unix(0, 91000),
		MaxSequenceNumber: 20, RowCount: 2, SizeBytes: 100,
		ColumnSet: tag23Cols, CompactionLevel: catalog.LevelFileNonOverlapped,
	}
	return pf1, pf2, pf3, pf4, pf5, pf6
}

func putSixFileFixtureRows(t *testing.T, d Deps, table *catalog.Table, partition *catalog.Partition, pf1, pf2, pf3, pf4, pf5, pf6 *catalog.File) {
	t.Helper()
	putBatch(t, d, table, partition, pf1.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag1": "WA"}, Time: 10, Fields: map[string]interface{}{"field_int": int64(1000)}},
		{Tags: map[string]string{"tag1": "VT"}, Time: 20, Fields: map[string]interface{}{"field_int": int64(10)}},
	})
	putBatch(t, d, table, partition, pf2.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag1": "WA"}, Time: 8000, Fields: map[string]interface{}{"field_int": int64(1000)}},
		{Tags: map[string]string{"tag1": "VT"}, Time: 10000, Fields: map[string]interface{}{"field_int": int64(10)}},
		{Tags: map[string]string{"tag1": "UT"}, Time: 20000, Fields: map[string]interface{}{"field_int": int64(70)}},
	})
	putBatch(t, d, table, partition, pf3.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag1": "WA"}, Time: 8000, Fields: map[string]interface{}{"field_int": int64(1500)}},
		{Tags: map[string]string{"tag1": "VT"}, Time: 6000, Fields: map[string]interface{}{"field_int": int64(10)}},
		{Tags: map[string]string{"tag1": "UT"}, Time: 25000, Fields: map[string]interface{}{"field_int": int64(270)}},
	})
	putBatch(t, d, table, partition, pf4.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag2": "WA", "tag3": "10"}, Time: 28000, Fields: map[string]interface{}{"field_int": int64(1600)}},
		{Tags: map[string]string{"tag2": "VT", "tag3": "20"}, Time: 26000, Fields: map[string]interface{}{"field_int": int64(20)}},
	})
	putBatch(t, d, table, partition, pf5.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag2": "PA", "tag3": "15"}, Time: 9, Fields: map[string]interface{}{"field_int": int64(1601)}},
		{Tags: map[string]string{"tag2": "OH", "tag3": "21"}, Time: 25, Fields: map[string]interface{}{"field_int": int64(21)}},
	})
	putBatch(t, d, table, partition, pf6.ObjectStoreID, []engine.Row{
		{Tags: map[string]string{"tag2": "PA", "tag3": "15"}, Time: 90000, Fields: map[string]interface{}{"field_int": int64(81601)}},
		{Tags: map[string]string{"tag2": "OH", "tag3": "21"}, Time: 91000, Fields: map[string]interface{}{"field_int": int64(421)}},
	})
}

// decodeAllRows reads and decodes every output file's rows into a map
// keyed by the output file's ID, for assertions.
func decodeAllRows(t *testing.T, ctx context.Context, d Deps, table *catalog.Table, partition *catalog.Partition, outputs []*catalog.File) map[catalog.FileID][]engine.Row {
	t.Helper()
	out := make(map[catalog.FileID][]engine.Row, len(outputs))
	for _, f := range outputs {
		p := path(table.NamespaceID, table.ID, partition.ShardID, partition.ID, f.ObjectStoreID)
		data, err := d.Objects.Get(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := engine.DecodeBatch(data)
		if err != nil {
			t.Fatal(err)
		}
		out[f.ID] = batch.Rows
	}
	return out
}

// TestCombine_S1HotSixFileFixture is the literal S1 scenario: four L0
// files plus two previously-compacted, non-overlapping L1 files feed a
// hot combine. pf6 doesn't overlap any selected L0 and is left
// untouched; pf1-pf5 merge, dedup (pf3's WA@8000 wins over pf2's) and
// split into two time bands, leaving 3 live files with 11 total rows.
func TestCombine_S1HotSixFileFixture(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()
	table := sixFileFixtureTable()
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}

	d := newTestDeps(t, cat)
	d.Config.MaxDesiredFileSizeBytes = 100 * 1024 * 1024
	d.Config.PercentageMaxFileSize = 100
	d.Config.SplitPercentage = 80
	d.NewObjectID = fixedIDs(
		mustUUID("00000000-0000-0000-0000-00000000a001"),
		mustUUID("00000000-0000-0000-0000-00000000a002"),
	)

	pf1, pf2, pf3, pf4, pf5, pf6 := sixFileFixture(d.Config.MaxDesiredFileSizeBytes)
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(pf1)
		sd.PutFile(pf2)
		sd.PutFile(pf3)
		sd.PutFile(pf4)
		sd.PutFile(pf5)
		sd.PutFile(pf6)
	})
	putSixFileFixtureRows(t, d, table, partition, pf1, pf2, pf3, pf4, pf5, pf6)

	lookup, err := filelookup.Lookup(ctx, cat.Partitions(), cat.ParquetFiles(), partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	filtered, ok := filefilter.Hot(ctx, lookup, table.Columns, 1<<30, nil)
	if !ok {
		t.Fatal("expected the hot filter to admit files")
	}
	if len(filtered.Files) != 5 {
		t.Fatalf("expected pf1-pf5 selected (pf6 doesn't overlap), got %d files", len(filtered.Files))
	}

	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.OutputFiles) != 2 {
		t.Fatalf("expected the merge to split into 2 time-band outputs, got %d", len(result.OutputFiles))
	}

	rowsByFile := decodeAllRows(t, ctx, d, table, partition, result.OutputFiles)
	var totalRows int
	var band1, band2 *catalog.File
	for _, f := range result.OutputFiles {
		totalRows += len(rowsByFile[f.ID])
		switch len(rowsByFile[f.ID]) {
		case 8:
			band1 = f
		case 3:
			band2 = f
		}
	}
	if totalRows != 11 {
		t.Fatalf("expected 11 deduplicated rows across both outputs, got %d", totalRows)
	}
	if band1 == nil || band2 == nil {
		t.Fatalf("expected one 8-row band and one 3-row band, got sizes %v", func() []int {
			var sizes []int
			for _, f := range result.OutputFiles {
				sizes = append(sizes, len(rowsByFile[f.ID]))
			}
			return sizes
		}())
	}

	var gotWA8000 interface{}
	found := false
	for _, r := range rowsByFile[band1.ID] {
		if r.Tags["tag1"] == "WA" && r.Time == 8000 {
			gotWA8000 = r.Fields["field_int"]
			found = true
		}
	}
	if !found {
		t.Fatal("tag1=WA,time=8000 row missing from band1")
	}
	if gotWA8000 != float64(1500) {
		t.Fatalf("tag1=WA,time=8000 field_int = %v, want 1500 (pf3 must win over pf2)", gotWA8000)
	}

	live, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 3 {
		t.Fatalf("expected 3 live files (2 new + untouched pf6), got %d", len(live))
	}
	var sawPf6 bool
	for _, f := range live {
		if f.ID == pf6.ID {
			sawPf6 = true
			if f.CompactionLevel != catalog.LevelFileNonOverlapped {
				t.Fatalf("pf6 must stay untouched at L1, got %v", f.CompactionLevel)
			}
		}
	}
	if !sawPf6 {
		t.Fatal("pf6 must remain live; it doesn't overlap the hot selection")
	}
}

// TestCombine_S3ColdFullCompaction runs the same six-file fixture aged
// past the cold threshold end-to-end through two cold cycles, the way
// the handler would encounter it over successive ticks: first the
// mixed L0+overlapping-L1 group (pf1-pf5) compacts straight to L2 (this
// module's cold filter targets L2 directly rather than the original's
// intermediate L1 stage, spec §4.3), then the remaining lone L1 file
// (pf6) is promoted to L2 without a rewrite. The two results don't
// overlap in time, so they correctly remain separate final files
// rather than forcing the original's single coalesced L2 output.
func TestCombine_S3ColdFullCompaction(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()
	table := sixFileFixtureTable()
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}

	d := newTestDeps(t, cat)
	// pf1 alone is sized just over MaxDesiredFileSizeBytes (100MiB) to
	// force the S1 hot scenario's split; the cold group bytes threshold
	// must comfortably clear that plus the other four files' sizes so
	// coldBinPack keeps pf1-pf5 in a single group, matching the first
	// cold cycle's single merged output.
	d.Config.ColdMaxDesiredFileSizeBytes = 200 * 1024 * 1024
	d.NewObjectID = fixedIDs(
		mustUUID("00000000-0000-0000-0000-00000000b001"),
		mustUUID("00000000-0000-0000-0000-00000000b002"),
	)

	pf1, pf2, pf3, pf4, pf5, pf6 := sixFileFixture(d.Config.MaxDesiredFileSizeBytes)
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(pf1)
		sd.PutFile(pf2)
		sd.PutFile(pf3)
		sd.PutFile(pf4)
		sd.PutFile(pf5)
		sd.PutFile(pf6)
	})
	putSixFileFixtureRows(t, d, table, partition, pf1, pf2, pf3, pf4, pf5, pf6)

	// Cycle 1: the cold filter groups the 4 L0 files with the one
	// overlapping L1 file (pf5) and targets L2 directly; pf6 isn't
	// selected since it overlaps nothing in the group.
	lookup1, err := filelookup.Lookup(ctx, cat.Partitions(), cat.ParquetFiles(), partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	filtered1, promote1, ok := filefilter.Cold(lookup1, 1<<30, 100, nil)
	if !ok || promote1 {
		t.Fatalf("expected a full cold compaction group, got promote=%v ok=%v", promote1, ok)
	}
	if len(filtered1.Files) != 5 {
		t.Fatalf("expected pf1-pf5 in the first cold group, got %d", len(filtered1.Files))
	}
	result1, err := Combine(ctx, d, table, filtered1)
	if err != nil {
		t.Fatal(err)
	}
	if len(result1.OutputFiles) != 1 {
		t.Fatalf("expected a single merged L2 output from the first cold group, got %d", len(result1.OutputFiles))
	}
	if result1.OutputFiles[0].CompactionLevel != catalog.LevelFinal {
		t.Fatalf("first cold group's output level = %v, want L2", result1.OutputFiles[0].CompactionLevel)
	}
	if result1.OutputFiles[0].RowCount != 11 {
		t.Fatalf("first cold group row count = %d, want 11", result1.OutputFiles[0].RowCount)
	}

	// Cycle 2: only pf6 remains at L1 with no L0 siblings; the cold
	// filter's "L1 only" branch (spec §4.6: partitions with L1 but no
	// L0 still need a cold pass) selects it, and a singleton with no
	// rewrite needed takes the promotion shortcut (spec §4.4).
	lookup2, err := filelookup.Lookup(ctx, cat.Partitions(), cat.ParquetFiles(), partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	filtered2, _, ok := filefilter.Cold(lookup2, 1<<30, 100, nil)
	if !ok {
		t.Fatal("expected pf6 to be selected for a cold cycle")
	}
	result2, err := Combine(ctx, d, table, filtered2)
	if err != nil {
		t.Fatal(err)
	}
	if !result2.Promoted {
		t.Fatal("expected pf6's promotion, not a rewrite")
	}

	live, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, partition.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live L2 files after both cold cycles, got %d", len(live))
	}
	var totalRows int64
	for _, f := range live {
		if f.CompactionLevel != catalog.LevelFinal {
			t.Fatalf("file %d left at %v, want L2", f.ID, f.CompactionLevel)
		}
		totalRows += f.RowCount
	}
	if totalRows != 13 {
		t.Fatalf("expected all 13 source rows preserved across the two L2 files, got %d", totalRows)
	}
	if len(live) == 2 && live[0].Overlaps(live[1]) {
		t.Fatalf("the two L2 outputs must be time-disjoint, got %+v and %+v", live[0], live[1])
	}
}

// TestCombine_ColdFullCompactionNonOverlapAfterL2 grounds property 4: a
// realistic multi-group cold compaction (forced into two bin-packed
// groups by a tight ColdMaxDesiredFileSizeBytes) produces L2 outputs
// that are pairwise time-disjoint.
func TestCombine_ColdFullCompactionNonOverlapAfterL2(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()
	table := &catalog.Table{ID: 1, NamespaceID: 1, Columns: map[string]catalog.ColumnType{
		"tag1": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64,
	}}
	partition := &catalog.Partition{ID: 1, ShardID: 1, TableID: 1}

	mkFile := func(id catalog.FileID, seq int64, minT, maxT int64, obj uuid.UUID) *catalog.File {
		return &catalog.File{
			ID: id, PartitionID: 1, ObjectStoreID: obj,
			MinTime: time.Unix(0, minT), MaxTime: time.Unix(0, maxT),
			MaxSequenceNumber: seq, RowCount: 1, SizeBytes: 100,
			ColumnSet:       map[string]catalog.ColumnType{"tag1": catalog.ColumnTypeTag, "field_int": catalog.ColumnTypeI64},
			CompactionLevel: catalog.LevelInitial,
		}
	}
	objA := mustUUID("00000000-0000-0000-0000-0000000000d1")
	objB := mustUUID("00000000-0000-0000-0000-0000000000d2")
	objC := mustUUID("00000000-0000-0000-0000-0000000000d3")
	objD := mustUUID("00000000-0000-0000-0000-0000000000d4")
	fa := mkFile(1, 1, 0, 100, objA)
	fb := mkFile(2, 2, 50, 150, objB)
	fc := mkFile(3, 3, 1000, 1100, objC)
	fd := mkFile(4, 4, 1050, 1150, objD)
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutTable(table)
		sd.PutPartition(partition)
		sd.PutFile(fa)
		sd.PutFile(fb)
		sd.PutFile(fc)
		sd.PutFile(fd)
	})

	d := newTestDeps(t, cat)
	d.Config.ColdMaxDesiredFileSizeBytes = 250 // exactly 2 files (200 bytes) per group
	d.NewObjectID = fixedIDs(
		mustUUID("00000000-0000-0000-0000-0000000000e1"),
		mustUUID("00000000-0000-0000-0000-0000000000e2"),
	)
	putBatch(t, d, table, partition, objA, []engine.Row{{Tags: map[string]string{"tag1": "A"}, Time: 10, Fields: map[string]interface{}{"field_int": int64(1)}}})
	putBatch(t, d, table, partition, objB, []engine.Row{{Tags: map[string]string{"tag1": "B"}, Time: 60, Fields: map[string]interface{}{"field_int": int64(2)}}})
	putBatch(t, d, table, partition, objC, []engine.Row{{Tags: map[string]string{"tag1": "C"}, Time: 1010, Fields: map[string]interface{}{"field_int": int64(3)}}})
	putBatch(t, d, table, partition, objD, []engine.Row{{Tags: map[string]string{"tag1": "D"}, Time: 1060, Fields: map[string]interface{}{"field_int": int64(4)}}})

	filtered := filefilter.Filtered{Partition: partition, Files: []*catalog.File{fa, fb, fc, fd}, TargetLevel: catalog.LevelFinal}
	result, err := Combine(ctx, d, table, filtered)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.OutputFiles) != 2 {
		t.Fatalf("expected the size threshold to force 2 output groups, got %d", len(result.OutputFiles))
	}
	if result.OutputFiles[0].Overlaps(result.OutputFiles[1]) {
		t.Fatalf("L2 outputs must be pairwise time-disjoint, got %+v and %+v", result.OutputFiles[0], result.OutputFiles[1])
	}
}

// TestColdBinPack_GroupsWithinSizeBudget grounds property 5 at the
// bin-packing layer that determines each cold output's input size: a
// non-final group's total bytes should land close to the target, not
// stop early and waste capacity, since one group becomes one output
// file and Deduplicate never inflates byte count beyond its inputs.
func TestColdBinPack_GroupsWithinSizeBudget(t *testing.T) {
	files := make([]*catalog.File, 0, 20)
	for i := 0; i < 20; i++ {
		files = append(files, &catalog.File{ID: catalog.FileID(i + 1), MaxSequenceNumber: int64(i + 1), SizeBytes: 1_000_000})
	}
	const target = int64(4_500_000)
	groups := coldBinPack(files, target)
	if len(groups) == 0 {
		t.Fatal("expected at least one group")
	}
	for gi, g := range groups {
		var total int64
		for _, f := range g {
			total += f.SizeBytes
		}
		if total > target {
			t.Fatalf("group %d totals %d bytes, exceeds target %d", gi, total, target)
		}
		if gi < len(groups)-1 && float64(total) < float64(target)*0.8 {
			t.Fatalf("group %d totals %d bytes, more than 20%% under target %d", gi, total, target)
		}
	}
}

// TestPromote_IdempotentPromotion grounds property 6: two consecutive
// promotions to the same target level converge on a single level
// change with no error on the repeat call.
func TestPromote_IdempotentPromotion(t *testing.T) {
	ctx := context.Background()
	cat := catalogmem.New()
	f := &catalog.File{ID: 1, PartitionID: 1, MaxSequenceNumber: 1, RowCount: 1, SizeBytes: 10, CompactionLevel: catalog.LevelInitial}
	cat.Seed(func(sd *catalogmem.Seeder) {
		sd.PutPartition(&catalog.Partition{ID: 1, ShardID: 1, TableID: 1})
		sd.PutFile(f)
	})

	if err := Promote(ctx, cat.ParquetFiles(), f.ID, catalog.LevelFileNonOverlapped); err != nil {
		t.Fatal(err)
	}
	if err := Promote(ctx, cat.ParquetFiles(), f.ID, catalog.LevelFileNonOverlapped); err != nil {
		t.Fatalf("repeating the same promotion must not error, got %v", err)
	}

	got, err := cat.ParquetFiles().ListByPartitionNotToDelete(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != f.ID || got[0].CompactionLevel != catalog.LevelFileNonOverlapped {
		t.Fatalf("expected a single converged L1 file, got %+v", got)
	}
}
