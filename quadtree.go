package main

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The per-slot index of a pack is a quad tree over the subtree rooted at
// the pack's index tile. Each node may carry the pack offset of the
// feature span anchored at its tile; interior nodes list which of their
// four children exist. Serialized form per node:
//
//	uvarint span offset + 1 (0 = no span at this node)
//	uvarint child bitmask (bit i = quad position i present)
//	uvarint byte length per present child, in quad position order
//	child nodes, in quad position order
//
// Nodes are addressed by byte offsets only; there is no pointer graph.

type quadTreeInput struct {
	tile   Tile
	offset uint32
}

type quadNode struct {
	spanOffset uint32 // offset + 1; 0 = unset
	children   [4]*quadNode
}

// makeQuadTree serializes the index for one slot. Inputs carry the best
// fitting tile of each span; tiles must lie in root's subtree.
func makeQuadTree(root Tile, inputs []quadTreeInput) ([]byte, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	top := &quadNode{}
	for _, in := range inputs {
		key, err := quadKey(root, in.tile)
		if err != nil {
			return nil, err
		}
		node := top
		for _, pos := range key {
			if node.children[pos] == nil {
				node.children[pos] = &quadNode{}
			}
			node = node.children[pos]
		}
		if node.spanOffset != 0 {
			return nil, fmt.Errorf("duplicate quad tree span at %v", in.tile)
		}
		node.spanOffset = in.offset + 1
	}

	return serializeQuadNode(top), nil
}

func serializeQuadNode(n *quadNode) []byte {
	var buf []byte
	buf = protowire.AppendVarint(buf, uint64(n.spanOffset))

	mask := uint64(0)
	for i, child := range n.children {
		if child != nil {
			mask |= 1 << uint(i)
		}
	}
	buf = protowire.AppendVarint(buf, mask)

	var childBufs [][]byte
	for _, child := range n.children {
		if child == nil {
			continue
		}
		cb := serializeQuadNode(child)
		buf = protowire.AppendVarint(buf, uint64(len(cb)))
		childBufs = append(childBufs, cb)
	}
	for _, cb := range childBufs {
		buf = append(buf, cb...)
	}
	return buf
}

// parseQuadNode splits one serialized node into its span offset and the
// byte ranges of its present children, ordered by quad position.
func parseQuadNode(data []byte) (spanPlus1 uint64, children [4][]byte, err error) {
	spanPlus1, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, children, fmt.Errorf("quad tree: bad span offset: %w", protowire.ParseError(n))
	}
	data = data[n:]

	mask, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, children, fmt.Errorf("quad tree: bad child mask: %w", protowire.ParseError(n))
	}
	data = data[n:]

	var lens [4]uint64
	for i := 0; i < 4; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		lens[i], n = protowire.ConsumeVarint(data)
		if n < 0 {
			return 0, children, fmt.Errorf("quad tree: bad child length: %w", protowire.ParseError(n))
		}
		data = data[n:]
	}
	for i := 0; i < 4; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if uint64(len(data)) < lens[i] {
			return 0, children, fmt.Errorf("quad tree: truncated child")
		}
		children[i] = data[:lens[i]]
		data = data[lens[i]:]
	}
	return spanPlus1, children, nil
}

// walkQuadTree descends along path and emits the span offsets of every
// node on the path plus the whole subtree below the path's end. Features
// anchored at ancestors of the request tile can still overlap it, so path
// nodes are included.
func walkQuadTree(tree []byte, path []uint8, emit func(offset uint32)) error {
	if len(tree) == 0 {
		return nil
	}
	spanPlus1, children, err := parseQuadNode(tree)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		if spanPlus1 != 0 {
			emit(uint32(spanPlus1 - 1))
		}
		for _, child := range children {
			if child != nil {
				if err := walkQuadTree(child, nil, emit); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if spanPlus1 != 0 {
		emit(uint32(spanPlus1 - 1))
	}
	next := children[path[0]]
	if next == nil {
		return nil
	}
	return walkQuadTree(next, path[1:], emit)
}

// quadKey returns the quad positions along the path from root's first
// descendant down to tile; empty when tile == root.
func quadKey(root, tile Tile) ([]uint8, error) {
	if tile.Z < root.Z {
		return nil, fmt.Errorf("tile %v above root %v", tile, root)
	}
	key := make([]uint8, tile.Z-root.Z)
	for i := len(key) - 1; i >= 0; i-- {
		key[i] = tile.QuadPos()
		tile = tile.Parent()
	}
	if tile != root {
		return nil, fmt.Errorf("tile outside root %v", root)
	}
	return key, nil
}
