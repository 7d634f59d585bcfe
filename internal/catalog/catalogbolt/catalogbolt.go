// Package catalogbolt is a durable, single-process implementation of
// catalog.Repository backed by a bbolt file. It is the on-disk analogue
// of catalogmem: bbolt's own transactions give us Commit/Rollback and
// writer serialization for free (spec §5: catalog writes are
// serialized), so this package is mostly encode/decode glue over one
// bucket per entity.
//
// bbolt itself is not exercised anywhere in the example pack, but it is
// the standard embedded store reached for across the wider ecosystem
// whenever a Go process needs a durable map without running a separate
// database; see DESIGN.md for the explicit call-out.
package catalogbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/aalhour/tsdbcompactor/internal/catalog"
)

var (
	bucketNamespaces = []byte("namespaces")
	bucketTables      = []byte("tables")
	bucketPartitions  = []byte("partitions")
	bucketFiles       = []byte("files")
	bucketTombstones  = []byte("tombstones")
	bucketProcessed   = []byte("processed_tombstones")
	bucketMeta        = []byte("meta")

	metaKeyNextFileID = []byte("next_file_id")
)

var allBuckets = [][]byte{
	bucketNamespaces, bucketTables, bucketPartitions, bucketFiles,
	bucketTombstones, bucketProcessed, bucketMeta,
}

// Store is a bbolt-backed catalog.Repository.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt catalog file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("catalogbolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalogbolt: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

func (s *Store) Partitions() catalog.PartitionRepo {
	return &partitionRepo{db: s.db}
}
func (s *Store) ParquetFiles() catalog.ParquetFileRepo {
	return &fileRepo{db: s.db}
}
func (s *Store) Tombstones() catalog.TombstoneRepo {
	return &tombstoneRepo{db: s.db}
}
func (s *Store) ProcessedTombstones() catalog.ProcessedTombstoneRepo {
	return &processedRepo{db: s.db}
}
func (s *Store) Tables() catalog.TableRepo {
	return &tableRepo{db: s.db}
}
func (s *Store) Columns() catalog.ColumnRepo {
	return &columnRepo{db: s.db}
}

// BeginTxn opens a bbolt write transaction. bbolt serializes writers
// process-wide, giving the same all-or-nothing visibility guarantee
// catalogmem gets from its clone-and-swap.
func (s *Store) BeginTxn(ctx context.Context) (catalog.Txn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, &catalog.Error{Op: "BeginTxn", Err: err}
	}
	return &txn{tx: tx}, nil
}

type txn struct {
	tx   *bbolt.Tx
	done bool
}

func (t *txn) Partitions() catalog.PartitionRepo                  { return &partitionRepo{tx: t.tx} }
func (t *txn) ParquetFiles() catalog.ParquetFileRepo               { return &fileRepo{tx: t.tx} }
func (t *txn) Tombstones() catalog.TombstoneRepo                   { return &tombstoneRepo{tx: t.tx} }
func (t *txn) ProcessedTombstones() catalog.ProcessedTombstoneRepo { return &processedRepo{tx: t.tx} }
func (t *txn) Tables() catalog.TableRepo                           { return &tableRepo{tx: t.tx} }
func (t *txn) Columns() catalog.ColumnRepo                         { return &columnRepo{tx: t.tx} }

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// view runs fn against a read-only snapshot, either the txn's own tx
// (when store-backed wrapper has none) or a fresh one.
func view(db *bbolt.DB, tx *bbolt.Tx, fn func(tx *bbolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return db.View(fn)
}

func update(db *bbolt.DB, tx *bbolt.Tx, fn func(tx *bbolt.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	return db.Update(fn)
}

func getJSON(b *bbolt.Bucket, key []byte, v interface{}) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}
