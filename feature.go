package main

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Feature is the atomic unit of the store: geometry in fixed coordinates
// plus string metadata and the zoom range the feature is visible in.
type Feature struct {
	ID       uint64
	Layer    int
	MinZoom  uint32
	MaxZoom  uint32
	Meta     map[string]string
	Masks    [][]byte
	Geometry FixedGeometry
}

// wire field numbers of the feature record
const (
	fieldHeader    = 1 // packed sint64: min_z, max_z [, bbox]
	fieldID        = 2 // uint64
	fieldMetaPairs = 3 // packed uint32: alternating key/value codes
	fieldMetaKeys  = 4 // repeated string: inline keys (code 0)
	fieldMetaVals  = 5 // repeated string: inline values (code 0)
	fieldMasks     = 6 // repeated bytes: per-zoom simplify masks
	fieldGeometry  = 7 // message
)

// metaKeys returns the metadata keys in deterministic order.
func (f *Feature) metaKeys() []string {
	keys := make([]string, 0, len(f.Meta))
	for k := range f.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// serializeFeature encodes f against the shared-string coding map. Strings
// without a code travel inline; code 0 in the pair stream marks them.
func serializeFeature(f *Feature, codingMap map[string]uint32) []byte {
	var buf []byte

	var header []byte
	header = protowire.AppendVarint(header, protowire.EncodeZigZag(int64(f.MinZoom)))
	header = protowire.AppendVarint(header, protowire.EncodeZigZag(int64(f.MaxZoom)))
	if box := boundingBox(f.Geometry); box.valid() {
		header = protowire.AppendVarint(header, protowire.EncodeZigZag(box.MinX))
		header = protowire.AppendVarint(header, protowire.EncodeZigZag(box.MinY))
		header = protowire.AppendVarint(header, protowire.EncodeZigZag(box.MaxX))
		header = protowire.AppendVarint(header, protowire.EncodeZigZag(box.MaxY))
	}
	buf = protowire.AppendTag(buf, fieldHeader, protowire.BytesType)
	buf = protowire.AppendBytes(buf, header)

	buf = protowire.AppendTag(buf, fieldID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, f.ID)

	var pairs []byte
	var inlineKeys, inlineVals []string
	for _, k := range f.metaKeys() {
		v := f.Meta[k]
		kc := codingMap[k]
		vc := codingMap[v]
		pairs = protowire.AppendVarint(pairs, uint64(kc))
		pairs = protowire.AppendVarint(pairs, uint64(vc))
		if kc == 0 {
			inlineKeys = append(inlineKeys, k)
		}
		if vc == 0 {
			inlineVals = append(inlineVals, v)
		}
	}
	if len(pairs) > 0 {
		buf = protowire.AppendTag(buf, fieldMetaPairs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, pairs)
	}
	for _, k := range inlineKeys {
		buf = protowire.AppendTag(buf, fieldMetaKeys, protowire.BytesType)
		buf = protowire.AppendString(buf, k)
	}
	for _, v := range inlineVals {
		buf = protowire.AppendTag(buf, fieldMetaVals, protowire.BytesType)
		buf = protowire.AppendString(buf, v)
	}

	for _, mask := range f.Masks {
		buf = protowire.AppendTag(buf, fieldMasks, protowire.BytesType)
		buf = protowire.AppendBytes(buf, mask)
	}

	buf = protowire.AppendTag(buf, fieldGeometry, protowire.BytesType)
	buf = protowire.AppendBytes(buf, serializeGeometry(f.Geometry))

	return buf
}

// deserializeFeature decodes a feature record, resolving shared-string
// codes against codingVec. Unknown fields are skipped.
func deserializeFeature(data []byte, codingVec []string) (*Feature, error) {
	f := &Feature{Meta: map[string]string{}}

	var pairCodes []uint64
	var inlineKeys, inlineVals []string
	sawHeader, sawGeometry := false, false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("feature: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldHeader && typ == protowire.BytesType:
			header, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad header: %w", protowire.ParseError(n))
			}
			data = data[n:]
			values, err := consumePackedZigZag(header)
			if err != nil {
				return nil, fmt.Errorf("feature: header: %w", err)
			}
			if len(values) != 2 && len(values) != 6 {
				return nil, fmt.Errorf("feature: header has %d values", len(values))
			}
			f.MinZoom = uint32(values[0])
			f.MaxZoom = uint32(values[1])
			sawHeader = true
		case num == fieldID && typ == protowire.VarintType:
			id, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad id: %w", protowire.ParseError(n))
			}
			data = data[n:]
			f.ID = id
		case num == fieldMetaPairs && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad meta pairs: %w", protowire.ParseError(n))
			}
			data = data[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return nil, fmt.Errorf("feature: bad meta pair: %w", protowire.ParseError(n))
				}
				packed = packed[n:]
				pairCodes = append(pairCodes, v)
			}
		case num == fieldMetaKeys && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad meta key: %w", protowire.ParseError(n))
			}
			data = data[n:]
			inlineKeys = append(inlineKeys, s)
		case num == fieldMetaVals && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad meta value: %w", protowire.ParseError(n))
			}
			data = data[n:]
			inlineVals = append(inlineVals, s)
		case num == fieldMasks && typ == protowire.BytesType:
			mask, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad mask: %w", protowire.ParseError(n))
			}
			data = data[n:]
			f.Masks = append(f.Masks, append([]byte(nil), mask...))
		case num == fieldGeometry && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad geometry: %w", protowire.ParseError(n))
			}
			data = data[n:]
			g, err := deserializeGeometry(msg)
			if err != nil {
				return nil, err
			}
			f.Geometry = g
			sawGeometry = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("feature: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !sawHeader || !sawGeometry {
		return nil, fmt.Errorf("feature: missing header or geometry")
	}
	if len(pairCodes)%2 != 0 {
		return nil, fmt.Errorf("feature: odd meta pair stream")
	}

	ki, vi := 0, 0
	resolve := func(code uint64, inline []string, i *int) (string, error) {
		if code == 0 {
			if *i >= len(inline) {
				return "", fmt.Errorf("feature: missing inline string")
			}
			s := inline[*i]
			*i++
			return s, nil
		}
		if code >= uint64(len(codingVec)) {
			return "", fmt.Errorf("feature: string code %d out of range", code)
		}
		return codingVec[code], nil
	}
	for i := 0; i < len(pairCodes); i += 2 {
		k, err := resolve(pairCodes[i], inlineKeys, &ki)
		if err != nil {
			return nil, err
		}
		v, err := resolve(pairCodes[i+1], inlineVals, &vi)
		if err != nil {
			return nil, err
		}
		f.Meta[k] = v
	}

	return f, nil
}

func consumePackedZigZag(packed []byte) ([]int64, error) {
	var out []int64
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		packed = packed[n:]
		out = append(out, protowire.DecodeZigZag(v))
	}
	return out, nil
}

// geometry message field numbers
const (
	geomFieldKind   = 1 // varint: geometry kind
	geomFieldShape  = 2 // packed uvarint: part and ring sizes
	geomFieldCoords = 3 // packed sint64: delta coded x/y stream
)

const (
	geomKindNull = iota
	geomKindPoint
	geomKindPolyline
	geomKindPolygon
)

func serializeGeometry(g FixedGeometry) []byte {
	var buf []byte
	var shape []uint64
	var coords []FixedPoint

	kind := geomKindNull
	switch geom := g.(type) {
	case nil:
		kind = geomKindNull
	case FixedNull:
		kind = geomKindNull
	case FixedPoint:
		kind = geomKindPoint
		coords = []FixedPoint{geom}
	case FixedPolyline:
		kind = geomKindPolyline
		shape = append(shape, uint64(len(geom.Lines)))
		for _, line := range geom.Lines {
			shape = append(shape, uint64(len(line)))
			coords = append(coords, line...)
		}
	case FixedPolygon:
		kind = geomKindPolygon
		shape = append(shape, uint64(len(geom.Polygons)))
		for _, poly := range geom.Polygons {
			shape = append(shape, uint64(1+len(poly.Inners)))
			shape = append(shape, uint64(len(poly.Outer)))
			coords = append(coords, poly.Outer...)
			for _, inner := range poly.Inners {
				shape = append(shape, uint64(len(inner)))
				coords = append(coords, inner...)
			}
		}
	}

	buf = protowire.AppendTag(buf, geomFieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(kind))

	if len(shape) > 0 {
		var packed []byte
		for _, v := range shape {
			packed = protowire.AppendVarint(packed, v)
		}
		buf = protowire.AppendTag(buf, geomFieldShape, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}

	if len(coords) > 0 {
		var packed []byte
		lastX, lastY := int64(0), int64(0)
		for _, p := range coords {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(p.X-lastX))
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(p.Y-lastY))
			lastX, lastY = p.X, p.Y
		}
		buf = protowire.AppendTag(buf, geomFieldCoords, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}

	return buf
}

func deserializeGeometry(data []byte) (FixedGeometry, error) {
	kind := uint64(geomKindNull)
	var shape []uint64
	var coords []FixedPoint

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("geometry: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == geomFieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("geometry: bad kind: %w", protowire.ParseError(n))
			}
			data = data[n:]
			kind = v
		case num == geomFieldShape && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("geometry: bad shape: %w", protowire.ParseError(n))
			}
			data = data[n:]
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return nil, fmt.Errorf("geometry: bad shape value: %w", protowire.ParseError(n))
				}
				packed = packed[n:]
				shape = append(shape, v)
			}
		case num == geomFieldCoords && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("geometry: bad coords: %w", protowire.ParseError(n))
			}
			data = data[n:]
			values, err := consumePackedZigZag(packed)
			if err != nil {
				return nil, fmt.Errorf("geometry: coords: %w", err)
			}
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("geometry: odd coordinate stream")
			}
			lastX, lastY := int64(0), int64(0)
			for i := 0; i < len(values); i += 2 {
				lastX += values[i]
				lastY += values[i+1]
				coords = append(coords, FixedPoint{X: lastX, Y: lastY})
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("geometry: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	take := func(count uint64) ([]FixedPoint, error) {
		if uint64(len(coords)) < count {
			return nil, fmt.Errorf("geometry: coordinate stream too short")
		}
		pts := coords[:count]
		coords = coords[count:]
		return pts, nil
	}

	switch kind {
	case geomKindNull:
		return FixedNull{}, nil
	case geomKindPoint:
		pts, err := take(1)
		if err != nil {
			return nil, err
		}
		return pts[0], nil
	case geomKindPolyline:
		if len(shape) == 0 {
			return nil, fmt.Errorf("geometry: polyline without shape")
		}
		numLines := shape[0]
		shape = shape[1:]
		if uint64(len(shape)) != numLines {
			return nil, fmt.Errorf("geometry: polyline shape mismatch")
		}
		geom := FixedPolyline{Lines: make([][]FixedPoint, 0, numLines)}
		for _, size := range shape {
			pts, err := take(size)
			if err != nil {
				return nil, err
			}
			geom.Lines = append(geom.Lines, append([]FixedPoint(nil), pts...))
		}
		return geom, nil
	case geomKindPolygon:
		if len(shape) == 0 {
			return nil, fmt.Errorf("geometry: polygon without shape")
		}
		numPolys := shape[0]
		shape = shape[1:]
		geom := FixedPolygon{Polygons: make([]FixedPoly, 0, numPolys)}
		for p := uint64(0); p < numPolys; p++ {
			if len(shape) == 0 {
				return nil, fmt.Errorf("geometry: polygon shape mismatch")
			}
			numRings := shape[0]
			shape = shape[1:]
			if numRings == 0 || uint64(len(shape)) < numRings {
				return nil, fmt.Errorf("geometry: polygon ring count mismatch")
			}
			var poly FixedPoly
			for r := uint64(0); r < numRings; r++ {
				pts, err := take(shape[0])
				shape = shape[1:]
				if err != nil {
					return nil, err
				}
				ring := FixedRing(append([]FixedPoint(nil), pts...))
				if r == 0 {
					poly.Outer = ring
				} else {
					poly.Inners = append(poly.Inners, ring)
				}
			}
			geom.Polygons = append(geom.Polygons, poly)
		}
		return geom, nil
	}
	return nil, fmt.Errorf("geometry: unknown kind %d", kind)
}
