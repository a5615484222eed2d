package main

import (
	"bytes"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindBestTile(t *testing.T) {
	root := Tile{X: 0, Y: 0, Z: 0}

	t.Run("bbox spanning siblings stops at parent", func(t *testing.T) {
		// box across the vertical world center line
		center := int64(tileExtent) << zInternal / 2
		box := fixedBox{MinX: center - 100, MinY: 100, MaxX: center + 100, MaxY: 200}
		if got := findBestTile(root, box); got != root {
			t.Errorf("findBestTile = %v, want root", got)
		}
	})

	t.Run("small bbox descends to max zoom", func(t *testing.T) {
		box := fixedBox{MinX: 100, MinY: 100, MaxX: 101, MaxY: 101}
		got := findBestTile(root, box)
		if got.Z != maxZoomLevel {
			t.Errorf("best tile zoom = %d, want %d (%v)", got.Z, maxZoomLevel, got)
		}
	})

	t.Run("bbox within one child recurses", func(t *testing.T) {
		// inside the north-west z1 child, spanning its own children
		quarter := int64(tileExtent) << zInternal / 4
		box := fixedBox{MinX: quarter - 50, MinY: quarter - 50, MaxX: quarter + 50, MaxY: quarter + 50}
		want := Tile{X: 0, Y: 0, Z: 1}
		if got := findBestTile(root, box); got != want {
			t.Errorf("findBestTile = %v, want %v", got, want)
		}
	})

	t.Run("invalid box stays at root", func(t *testing.T) {
		if got := findBestTile(root, emptyBox()); got != root {
			t.Errorf("findBestTile(empty) = %v, want root", got)
		}
	})
}

// packTestFeature builds a feature whose bbox sits inside the given quad
// path below the index tile.
func packTestFeature(t *testing.T, root Tile, id uint64, minZoom uint32, sub Tile) []byte {
	t.Helper()
	spec := sub.spec()
	cx := (spec.insertBounds.MinX + spec.insertBounds.MaxX) / 2
	cy := (spec.insertBounds.MinY + spec.insertBounds.MaxY) / 2
	f := &Feature{
		ID:      id,
		MinZoom: minZoom,
		MaxZoom: maxZoomLevel,
		Meta:    map[string]string{"layer": "test", "kind": "marker"},
		Geometry: FixedPolyline{Lines: [][]FixedPoint{{
			{X: cx - 32, Y: cy - 32}, {X: cx + 32, Y: cy + 32},
		}}},
	}
	return serializeFeature(f, nil)
}

func yieldedIDs(t *testing.T, root Tile, pack []byte, request Tile) []uint64 {
	t.Helper()
	var ids []uint64
	err := eachPackRecord(root, pack, request, func(featureBytes []byte) {
		f, err := deserializeFeature(featureBytes, nil)
		if err != nil {
			t.Fatalf("decode yielded feature: %v", err)
		}
		ids = append(ids, f.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestPackRoundTrip(t *testing.T) {
	root := Tile{X: 512, Y: 340, Z: zIndexDefault}

	var raws [][]byte
	for i := uint64(1); i <= 5; i++ {
		sub := Tile{X: root.X << 2, Y: root.Y << 2, Z: root.Z + 2}
		sub.X += uint32(i) % 4
		raws = append(raws, packTestFeature(t, root, i, 0, sub))
	}

	pack, err := packFeatures(root, []string{""}, nil, raws)
	if err != nil {
		t.Fatal(err)
	}

	count, indexOffset, err := packHeader(pack)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("feature count = %d, want 5", count)
	}
	if indexOffset <= packHeaderLen {
		t.Errorf("index offset %d must point beyond the body", indexOffset)
	}

	// requesting the index tile itself yields every min-zoom-0 feature
	var yielded [][]byte
	err = eachPackRecord(root, pack, root, func(featureBytes []byte) {
		yielded = append(yielded, append([]byte(nil), featureBytes...))
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(yielded) != len(raws) {
		t.Fatalf("yielded %d features, want %d", len(yielded), len(raws))
	}

	sortByteSlices(raws)
	sortByteSlices(yielded)
	if diff := cmp.Diff(raws, yielded); diff != "" {
		t.Errorf("pack round trip mismatch (-want +got):\n%s", diff)
	}
}

func sortByteSlices(s [][]byte) {
	sort.Slice(s, func(i, j int) bool { return bytes.Compare(s[i], s[j]) < 0 })
}

func TestPackRejectsInvalidMinZoom(t *testing.T) {
	root := Tile{X: 0, Y: 0, Z: zIndexDefault}
	f := &Feature{
		ID:       1,
		MinZoom:  invalidZoomLevel,
		MaxZoom:  maxZoomLevel,
		Meta:     map[string]string{"layer": "x", "filler": "keeps-record-large"},
		Geometry: FixedPoint{X: 100, Y: 100},
	}
	_, err := packFeatures(root, []string{""}, nil, [][]byte{serializeFeature(f, nil)})
	if err == nil {
		t.Error("expected error for unbounded min zoom")
	}
}

func TestQuadTreeContainment(t *testing.T) {
	root := Tile{X: 0, Y: 0, Z: zIndexDefault}

	nw := Tile{X: root.X << 2, Y: root.Y << 2, Z: root.Z + 2}     // (0,0,12)
	se := Tile{X: root.X<<2 | 3, Y: root.Y<<2 | 3, Z: root.Z + 2} // (3,3,12)

	raws := [][]byte{
		packTestFeature(t, root, 1, 0, nw),   // slot 0, north-west subtree
		packTestFeature(t, root, 2, 0, se),   // slot 0, south-east subtree
		packTestFeature(t, root, 3, 0, root), // slot 0, anchored at root
		packTestFeature(t, root, 4, 12, nw),  // slot 2, north-west subtree
	}
	// feature 3 must really anchor at root: give it a root-spanning bbox
	center := root.spec()
	f3 := &Feature{
		ID: 3, MinZoom: 0, MaxZoom: maxZoomLevel,
		Meta: map[string]string{"layer": "test", "kind": "marker"},
		Geometry: FixedPolyline{Lines: [][]FixedPoint{{
			{X: center.insertBounds.MinX + 10, Y: center.insertBounds.MinY + 10},
			{X: center.insertBounds.MaxX - 10, Y: center.insertBounds.MaxY - 10},
		}}},
	}
	raws[2] = serializeFeature(f3, nil)

	pack, err := packFeatures(root, []string{""}, nil, raws)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name    string
		request Tile
		want    []uint64
	}{
		{"index tile sees slot 0 only", root, []uint64{1, 2, 3}},
		{"nw subtree plus path ancestors", nw, []uint64{1, 3, 4}},
		{"se subtree plus path ancestors", se, []uint64{2, 3}},
		{"deep nw descendant", Tile{X: nw.X << 8, Y: nw.Y << 8, Z: nw.Z + 8}, []uint64{1, 3, 4}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := yieldedIDs(t, root, pack, tc.request)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("yielded ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQueryFeaturesRangeScan(t *testing.T) {
	db := openTestDB(t)

	tiles := []Tile{
		{X: 100, Y: 200, Z: 10},
		{X: 101, Y: 200, Z: 10},
		{X: 100, Y: 201, Z: 10},
		{X: 900, Y: 900, Z: 10},
	}
	wt, err := db.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	for i, tile := range tiles {
		wt.Put(PartFeatures, featureKey(tile), []byte{byte(i)})
	}
	if err := wt.Commit(); err != nil {
		t.Fatal(err)
	}

	rt, err := db.BeginRead()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Discard()

	// a z8 tile covering the 100/200 neighbourhood but not 900/900
	request := Tile{X: 25, Y: 50, Z: 8}
	var found []Tile
	err = queryFeatures(rt, request, func(packTile Tile, value []byte) error {
		found = append(found, packTile)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []Tile{
		{X: 100, Y: 200, Z: 10}, {X: 101, Y: 200, Z: 10}, {X: 100, Y: 201, Z: 10},
	}
	if diff := cmp.Diff(want, found); diff != "" {
		t.Errorf("range scan mismatch (-want +got):\n%s", diff)
	}
}

func TestPackRecordsForeachFromStore(t *testing.T) {
	db := openTestDB(t)

	root := Tile{X: 100, Y: 200, Z: zIndexDefault}
	sub := Tile{X: root.X << 1, Y: root.Y << 1, Z: root.Z + 1}
	raws := [][]byte{
		packTestFeature(t, root, 1, 0, sub),
		packTestFeature(t, root, 2, 0, root),
	}
	pack, err := packFeatures(root, []string{""}, nil, raws)
	if err != nil {
		t.Fatal(err)
	}

	wt, err := db.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	wt.Put(PartFeatures, featureKey(root), pack)
	if err := wt.Commit(); err != nil {
		t.Fatal(err)
	}

	rt, err := db.BeginRead()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Discard()

	var ids []uint64
	err = packRecordsForeach(rt, sub, func(packTile Tile, featureBytes []byte) {
		if packTile != root {
			t.Errorf("pack tile = %v, want %v", packTile, root)
		}
		f, err := deserializeFeature(featureBytes, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, f.ID)
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if diff := cmp.Diff([]uint64{1, 2}, ids); diff != "" {
		t.Errorf("yielded ids mismatch (-want +got):\n%s", diff)
	}
}
