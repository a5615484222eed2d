package main

import (
	"fmt"
	"log/slog"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// LayerNamesBuilder assigns stable indices to layer names during import
// and persists the table into the meta partition.
type LayerNamesBuilder struct {
	index map[string]int
	names []string
}

func NewLayerNamesBuilder() *LayerNamesBuilder {
	return &LayerNamesBuilder{index: map[string]int{}}
}

func (b *LayerNamesBuilder) GetLayerIdx(name string) int {
	if i, ok := b.index[name]; ok {
		return i
	}
	i := len(b.names)
	b.index[name] = i
	b.names = append(b.names, name)
	return i
}

func (b *LayerNamesBuilder) Store(txn *WriteTxn) error {
	return txn.PutMeta(metaKeyLayerNames, string(encodeStringList(b.names)))
}

// FeatureInserter buffers encoded features grouped by index tile and
// flushes them into the features partition. A feature overlapping several
// index tiles is stored once per tile so every subtree query finds it.
type FeatureInserter struct {
	db     *Database
	groups map[string][]byte
	count  uint64
}

func NewFeatureInserter(db *Database) *FeatureInserter {
	return &FeatureInserter{db: db, groups: map[string][]byte{}}
}

// indexTilesOf returns the range of index zoom tiles overlapping box.
func indexTilesOf(box fixedBox) tileRange {
	if !box.valid() {
		return tileRange{MinX: 1, MaxX: 0, Z: zIndexDefault}
	}
	shiftBits := uint32(32 - zIndexDefault)
	clampTile := func(v int64) uint32 {
		if v < 0 {
			return 0
		}
		t := uint64(v) >> shiftBits
		if t >= 1<<zIndexDefault {
			return 1<<zIndexDefault - 1
		}
		return uint32(t)
	}
	return tileRange{
		MinX: clampTile(box.MinX), MinY: clampTile(box.MinY),
		MaxX: clampTile(box.MaxX), MaxY: clampTile(box.MaxY),
		Z: zIndexDefault,
	}
}

// Insert buffers one feature. Null geometry is rejected.
func (ins *FeatureInserter) Insert(f *Feature) error {
	box := boundingBox(f.Geometry)
	if !box.valid() {
		return fmt.Errorf("feature %d has no geometry", f.ID)
	}
	if f.MinZoom == invalidZoomLevel {
		return fmt.Errorf("feature %d has unbounded min zoom", f.ID)
	}

	encoded := serializeFeature(f, nil)
	it := newTileRangeIterator(indexTilesOf(box))
	for t, ok := it.next(); ok; t, ok = it.next() {
		key := string(featureKey(t))
		group := ins.groups[key]
		group = protowire.AppendVarint(group, uint64(len(encoded)))
		group = append(group, encoded...)
		ins.groups[key] = group
	}
	ins.count++
	return nil
}

// Flush appends the buffered groups to the store.
func (ins *FeatureInserter) Flush() error {
	if len(ins.groups) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ins.groups))
	for k := range ins.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	txn, err := ins.db.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()

	for _, k := range keys {
		key := []byte(k)
		value := ins.groups[k]
		if existing, ok, err := txn.Get(PartFeatures, key); err != nil {
			return err
		} else if ok {
			value = append(append([]byte(nil), existing...), value...)
		}
		if err := txn.Put(PartFeatures, key, value); err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	slog.Info("features inserted", "features", ins.count, "index_tiles", len(ins.groups))
	ins.groups = map[string][]byte{}
	return nil
}
