package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Pack layout, stored as the value of one features partition key:
//
//	u32 feature count, u32 index offset (little endian, back-patched)
//	feature spans: varint length + bytes each, zero terminated per span
//	quad trees, one per min-zoom slot
//	packed varint array of quad tree offsets (0 = empty slot)
//
// Slot s of a pack rooted at index tile r holds the features with
// max(minZoom, r.Z) == r.Z + s.

const packHeaderLen = 8

// minimum serialized feature size; anything below indicates corruption
const minFeatureBytes = 32

type packer struct {
	buf []byte
}

func newPacker(featureCount uint32) *packer {
	p := &packer{buf: make([]byte, packHeaderLen)}
	binary.LittleEndian.PutUint32(p.buf[0:4], featureCount)
	return p
}

func (p *packer) writeIndexOffset(offset uint32) {
	binary.LittleEndian.PutUint32(p.buf[4:8], offset)
}

func (p *packer) appendSpan(features [][]byte) (uint32, error) {
	offset := uint32(len(p.buf))
	for _, f := range features {
		if len(f) < minFeatureBytes {
			return 0, fmt.Errorf("refusing to pack %d byte feature", len(f))
		}
		p.buf = protowire.AppendVarint(p.buf, uint64(len(f)))
		p.buf = append(p.buf, f...)
	}
	p.buf = protowire.AppendVarint(p.buf, 0)
	return offset, nil
}

func (p *packer) appendPacked(values []uint32) uint32 {
	offset := uint32(len(p.buf))
	for _, v := range values {
		p.buf = protowire.AppendVarint(p.buf, uint64(v))
	}
	return offset
}

func (p *packer) append(data []byte) uint32 {
	offset := uint32(len(p.buf))
	p.buf = append(p.buf, data...)
	return offset
}

// findBestTile descends from root into the unique child overlapping box
// until two children match or maxZoomLevel is reached.
func findBestTile(root Tile, box fixedBox) Tile {
	if !box.valid() {
		return root
	}
	best := root
	for best.Z < maxZoomLevel {
		var next *Tile
		for _, child := range best.Children() {
			if !child.spec().insertBounds.overlaps(box) {
				continue
			}
			if next != nil {
				return best
			}
			c := child
			next = &c
		}
		if next == nil {
			return best
		}
		best = *next
	}
	return best
}

type packableFeature struct {
	quadKey  []uint8
	bestTile Tile
	bytes    []byte
}

// packFeatures recodes raw feature records against the shared-string map,
// groups them by min zoom slot and best fitting tile and writes the pack
// for the given index tile.
func packFeatures(tile Tile, codingVec []string, codingMap map[string]uint32, raws [][]byte) ([]byte, error) {
	slots := make([][]packableFeature, maxZoomLevel+1-tile.Z)
	for _, raw := range raws {
		f, err := deserializeFeature(raw, codingVec)
		if err != nil {
			return nil, fmt.Errorf("pack %v: %w", tile, err)
		}
		if f.MinZoom == invalidZoomLevel {
			return nil, fmt.Errorf("pack %v: feature %d has unbounded min zoom", tile, f.ID)
		}

		best := findBestTile(tile, boundingBox(f.Geometry))
		key, err := quadKey(tile, best)
		if err != nil {
			return nil, fmt.Errorf("pack %v: %w", tile, err)
		}

		slot := uint32(0)
		if f.MinZoom > tile.Z {
			slot = min(f.MinZoom, maxZoomLevel) - tile.Z
		}
		slots[slot] = append(slots[slot], packableFeature{
			quadKey:  key,
			bestTile: best,
			bytes:    serializeFeature(f, codingMap),
		})
	}

	p := newPacker(uint32(len(raws)))

	quadTrees := make([][]byte, 0, len(slots))
	for _, features := range slots {
		if len(features) == 0 {
			quadTrees = append(quadTrees, nil)
			continue
		}
		sort.Slice(features, func(i, j int) bool {
			if c := bytes.Compare(features[i].quadKey, features[j].quadKey); c != 0 {
				return c < 0
			}
			return bytes.Compare(features[i].bytes, features[j].bytes) < 0
		})

		var inputs []quadTreeInput
		for lb := 0; lb < len(features); {
			ub := lb
			for ub < len(features) && bytes.Equal(features[ub].quadKey, features[lb].quadKey) {
				ub++
			}
			span := make([][]byte, 0, ub-lb)
			for _, f := range features[lb:ub] {
				span = append(span, f.bytes)
			}
			offset, err := p.appendSpan(span)
			if err != nil {
				return nil, fmt.Errorf("pack %v: %w", tile, err)
			}
			inputs = append(inputs, quadTreeInput{tile: features[lb].bestTile, offset: offset})
			lb = ub
		}

		tree, err := makeQuadTree(tile, inputs)
		if err != nil {
			return nil, fmt.Errorf("pack %v: %w", tile, err)
		}
		quadTrees = append(quadTrees, tree)
	}

	offsets := make([]uint32, 0, len(quadTrees))
	for _, tree := range quadTrees {
		if len(tree) == 0 {
			offsets = append(offsets, 0)
		} else {
			offsets = append(offsets, p.append(tree))
		}
	}
	p.writeIndexOffset(p.appendPacked(offsets))

	return p.buf, nil
}

// unpackFeatures iterates the varint length prefixed feature records of a
// raw (pre-pack) group or a span. A zero length terminates the list.
func unpackFeatures(data []byte, fn func(view []byte)) {
	for len(data) > 0 {
		size, n := protowire.ConsumeVarint(data)
		if n < 0 || size == 0 {
			return
		}
		data = data[n:]
		if uint64(len(data)) < size {
			return
		}
		fn(data[:size])
		data = data[size:]
	}
}

func packHeader(pack []byte) (count, indexOffset uint32, err error) {
	if len(pack) < packHeaderLen {
		return 0, 0, fmt.Errorf("pack too short: %d bytes", len(pack))
	}
	count = binary.LittleEndian.Uint32(pack[0:4])
	indexOffset = binary.LittleEndian.Uint32(pack[4:8])
	if indexOffset < packHeaderLen || indexOffset > uint32(len(pack)) {
		return 0, 0, fmt.Errorf("pack index offset %d out of range", indexOffset)
	}
	return count, indexOffset, nil
}

// eachPackRecord yields the feature records of one pack relevant for
// request tile t: for each slot visible at t's zoom, the spans found by
// descending the slot's quad tree along t's quad prefix.
func eachPackRecord(packTile Tile, pack []byte, t Tile, fn func(featureBytes []byte)) error {
	_, indexOffset, err := packHeader(pack)
	if err != nil {
		return err
	}

	numSlots := int(maxZoomLevel + 1 - packTile.Z)
	offsets := make([]uint32, 0, numSlots)
	index := pack[indexOffset:]
	for i := 0; i < numSlots; i++ {
		v, n := protowire.ConsumeVarint(index)
		if n < 0 {
			return fmt.Errorf("pack index: %w", protowire.ParseError(n))
		}
		index = index[n:]
		offsets = append(offsets, uint32(v))
	}

	var path []uint8
	maxSlot := 0
	if t.Z > packTile.Z {
		ancestor := t
		for ancestor.Z > packTile.Z {
			ancestor = ancestor.Parent()
		}
		if ancestor != packTile {
			return fmt.Errorf("request tile %v outside pack %v", t, packTile)
		}
		path, err = quadKey(packTile, t)
		if err != nil {
			return err
		}
		maxSlot = int(t.Z - packTile.Z)
	}

	var walkErr error
	for slot := 0; slot <= maxSlot && slot < numSlots; slot++ {
		if offsets[slot] == 0 {
			continue
		}
		if offsets[slot] < packHeaderLen || offsets[slot] >= uint32(len(pack)) {
			return fmt.Errorf("pack quad tree offset %d out of range", offsets[slot])
		}
		err := walkQuadTree(pack[offsets[slot]:], path, func(spanOffset uint32) {
			if walkErr != nil {
				return
			}
			if spanOffset >= uint32(len(pack)) {
				walkErr = fmt.Errorf("pack span offset %d out of range", spanOffset)
				return
			}
			unpackFeatures(pack[spanOffset:], fn)
		})
		if err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
	}
	return nil
}

// queryFeatures scans the features partition for all packs covering t's
// footprint at the index zoom. Values are copied before fn returns.
func queryFeatures(txn *ReadTxn, t Tile, fn func(packTile Tile, value []byte) error) error {
	bounds := t.boundsOnZ(zIndexDefault)

	c := txn.Cursor(PartFeatures)
	defer c.Close()

	for y := bounds.MinY; y <= bounds.MaxY; y++ {
		end := coordsToFeatureKey(bounds.MaxX+1, y)
		for ok := c.SetRange(PartFeatures, coordsToFeatureKey(bounds.MinX, y)); ok; ok = c.Next() {
			if bytes.Compare(c.Key(), end) >= 0 {
				break
			}
			packTile, err := featureKeyToTile(c.Key())
			if err != nil {
				return err
			}
			if err := fn(packTile, append([]byte(nil), c.Value()...)); err != nil {
				return err
			}
		}
	}
	return nil
}

// packRecordsForeach loads every pack overlapping t and yields the
// feature records relevant for building t.
func packRecordsForeach(txn *ReadTxn, t Tile, fn func(packTile Tile, featureBytes []byte)) error {
	return queryFeatures(txn, t, func(packTile Tile, value []byte) error {
		return eachPackRecord(packTile, value, t, func(featureBytes []byte) {
			fn(packTile, featureBytes)
		})
	})
}
