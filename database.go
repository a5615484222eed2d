package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Partition selects one of the three keyspaces of the store.
type Partition byte

const (
	// features: per-index-tile feature groups, later packs
	PartFeatures Partition = 'f'
	// tiles: prepared MVT payloads
	PartTiles Partition = 't'
	// meta: small scalar values
	PartMeta Partition = 'm'
)

// meta partition keys
const (
	metaKeyMaxPreparedZoom   = "max_prepared_zoom"
	metaKeySharedStringTable = "shared_string_table"
	metaKeyLayerNames        = "layer_names"
)

// Database wraps the ordered key/value store. It provides snapshot reads,
// a single exclusive write transaction and ordered cursors per partition.
type Database struct {
	ldb  *leveldb.DB
	path string
}

// OpenDatabase opens (or creates) the store at path.
func OpenDatabase(path string) (*Database, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	slog.Info("database opened", "path", path)
	return &Database{ldb: ldb, path: path}, nil
}

func (d *Database) Close() error {
	return d.ldb.Close()
}

// Sync flushes pending writes durably to disk.
func (d *Database) Sync() error {
	if err := d.ldb.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to sync database: %w", err)
	}
	return nil
}

func partKey(part Partition, key []byte) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, byte(part))
	return append(k, key...)
}

func partRange(part Partition) *util.Range {
	return &util.Range{Start: []byte{byte(part)}, Limit: []byte{byte(part) + 1}}
}

// ReadTxn is a consistent snapshot of the store.
type ReadTxn struct {
	snap *leveldb.Snapshot
}

func (d *Database) BeginRead() (*ReadTxn, error) {
	snap, err := d.ldb.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	return &ReadTxn{snap: snap}, nil
}

func (t *ReadTxn) Discard() {
	t.snap.Release()
}

// Get returns the value for key, or (nil, false, nil) when absent.
func (t *ReadTxn) Get(part Partition, key []byte) ([]byte, bool, error) {
	v, err := t.snap.Get(partKey(part, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key: %w", err)
	}
	return v, true, nil
}

func (t *ReadTxn) Cursor(part Partition) *Cursor {
	return &Cursor{it: t.snap.NewIterator(partRange(part), nil)}
}

// WriteTxn is the store's single writer; dropping without Commit aborts.
type WriteTxn struct {
	tr *leveldb.Transaction
}

func (d *Database) BeginWrite() (*WriteTxn, error) {
	tr, err := d.ldb.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to open write transaction: %w", err)
	}
	return &WriteTxn{tr: tr}, nil
}

func (t *WriteTxn) Get(part Partition, key []byte) ([]byte, bool, error) {
	v, err := t.tr.Get(partKey(part, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key: %w", err)
	}
	return v, true, nil
}

func (t *WriteTxn) Put(part Partition, key, value []byte) error {
	if err := t.tr.Put(partKey(part, key), value, nil); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

func (t *WriteTxn) Delete(part Partition, key []byte) error {
	if err := t.tr.Delete(partKey(part, key), nil); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (t *WriteTxn) Cursor(part Partition) *Cursor {
	return &Cursor{it: t.tr.NewIterator(partRange(part), nil)}
}

func (t *WriteTxn) Commit() error {
	if err := t.tr.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *WriteTxn) Discard() {
	t.tr.Discard()
}

// Cursor iterates one partition in key order. Key and Value slices stay
// valid until the cursor moves; copy them to keep them longer.
type Cursor struct {
	it iterator.Iterator
}

func (c *Cursor) First() bool { return c.it.First() }

func (c *Cursor) Last() bool { return c.it.Last() }

func (c *Cursor) Next() bool { return c.it.Next() }

func (c *Cursor) Close() { c.it.Release() }

// SetRange positions the cursor at the first key >= key within part.
func (c *Cursor) SetRange(part Partition, key []byte) bool {
	return c.it.Seek(partKey(part, key))
}

// Exact positions the cursor at key and reports whether it exists.
func (c *Cursor) Exact(part Partition, key []byte) bool {
	full := partKey(part, key)
	if !c.it.Seek(full) {
		return false
	}
	cur := c.it.Key()
	if len(cur) != len(full) {
		return false
	}
	for i := range cur {
		if cur[i] != full[i] {
			return false
		}
	}
	return true
}

// Key returns the key at the cursor with the partition byte stripped.
func (c *Cursor) Key() []byte {
	k := c.it.Key()
	if len(k) == 0 {
		return nil
	}
	return k[1:]
}

func (c *Cursor) Value() []byte {
	return c.it.Value()
}

// meta helpers

func (t *ReadTxn) GetMeta(key string) (string, bool, error) {
	v, ok, err := t.Get(PartMeta, []byte(key))
	return string(v), ok, err
}

func (t *WriteTxn) PutMeta(key, value string) error {
	return t.Put(PartMeta, []byte(key), []byte(value))
}

// maxPreparedZoom reads the meta marker; -1 when no tiles were prepared.
func (d *Database) maxPreparedZoom() (int, error) {
	txn, err := d.BeginRead()
	if err != nil {
		return -1, err
	}
	defer txn.Discard()

	v, ok, err := txn.GetMeta(metaKeyMaxPreparedZoom)
	if err != nil || !ok {
		return -1, err
	}
	z, err := strconv.Atoi(v)
	if err != nil {
		return -1, fmt.Errorf("bad %s value %q: %w", metaKeyMaxPreparedZoom, v, err)
	}
	return z, nil
}
