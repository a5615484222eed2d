package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ImportOptions configure one GeoJSON import run.
type ImportOptions struct {
	Layer      string
	MinZoom    uint32
	MaxZoom    uint32
	Classifier Classifier
}

// ImportGeoJSON reads a GeoJSON FeatureCollection, projects it to fixed
// Web-Mercator coordinates, runs every feature through the classifier and
// inserts the approved ones.
func ImportGeoJSON(db *Database, path string, opts ImportOptions) error {
	logger := slog.With("path", path, "layer", opts.Layer)
	logger.Info("importing GeoJSON")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = defaultClassifier(opts.Layer, opts.MinZoom)
	}

	inserter := NewFeatureInserter(db)
	layerNames := NewLayerNamesBuilder()

	inserted, skipped := 0, 0
	for i, feat := range fc.Features {
		id := uint64(i + 1)
		if v, ok := feat.ID.(float64); ok && v >= 0 {
			id = uint64(v)
		}

		pending := NewPendingFeature(id, propertiesToTags(feat.Properties))
		classifier(pending)
		if !pending.approved || pending.targetLayer == "" {
			skipped++
			continue
		}

		geom := geometryToFixed(feat.Geometry)
		if _, null := geom.(FixedNull); null {
			skipped++
			continue
		}

		maxZoom := opts.MaxZoom
		if maxZoom == 0 || maxZoom > maxZoomLevel {
			maxZoom = maxZoomLevel
		}
		f := &Feature{
			ID:       id,
			Layer:    layerNames.GetLayerIdx(pending.targetLayer),
			MinZoom:  pending.minZoom,
			MaxZoom:  max(maxZoom, pending.minZoom),
			Meta:     pending.makeMeta(),
			Geometry: geom,
		}
		if err := inserter.Insert(f); err != nil {
			return err
		}
		inserted++
	}

	if err := inserter.Flush(); err != nil {
		return err
	}

	txn, err := db.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := layerNames.Store(txn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	logger.Info("import finished", "inserted", inserted, "skipped", skipped)
	return nil
}

func propertiesToTags(props geojson.Properties) map[string]string {
	tags := make(map[string]string, len(props))
	for k, v := range props {
		switch value := v.(type) {
		case string:
			tags[k] = value
		case float64:
			tags[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			tags[k] = strconv.FormatBool(value)
		}
	}
	return tags
}

// latitude bound where Web-Mercator cuts off
const maxMercatorLat = 85.05112878

// lonLatToFixed projects WGS84 lon/lat into fixed coordinates: the whole
// world spans [0, 2^32) per axis.
func lonLatToFixed(lon, lat float64) FixedPoint {
	world := math.Exp2(32)

	lat = math.Max(math.Min(lat, maxMercatorLat), -maxMercatorLat)
	x := (lon + 180) / 360 * world
	sinLat := math.Sin(lat * math.Pi / 180)
	y := (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * world

	clampCoord := func(v float64) int64 {
		if v < 0 {
			return 0
		}
		if v >= world {
			return int64(world) - 1
		}
		return int64(v)
	}
	return FixedPoint{X: clampCoord(x), Y: clampCoord(y)}
}

func pointsToFixed(pts []orb.Point) []FixedPoint {
	out := make([]FixedPoint, len(pts))
	for i, p := range pts {
		out[i] = lonLatToFixed(p.Lon(), p.Lat())
	}
	return out
}

func ringToFixed(ring orb.Ring) FixedRing {
	pts := []orb.Point(ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return FixedRing(pointsToFixed(pts))
}

func polygonToFixed(poly orb.Polygon) (FixedPoly, bool) {
	if len(poly) == 0 {
		return FixedPoly{}, false
	}
	outer := ringToFixed(poly[0])
	if len(outer) < 3 {
		return FixedPoly{}, false
	}
	fixed := FixedPoly{Outer: outer}
	for _, inner := range poly[1:] {
		if ring := ringToFixed(inner); len(ring) >= 3 {
			fixed.Inners = append(fixed.Inners, ring)
		}
	}
	return fixed, true
}

// geometryToFixed converts the supported GeoJSON geometries; anything
// else (or anything degenerate) becomes FixedNull.
func geometryToFixed(g orb.Geometry) FixedGeometry {
	switch geom := g.(type) {
	case orb.Point:
		return lonLatToFixed(geom.Lon(), geom.Lat())
	case orb.LineString:
		if len(geom) < 2 {
			return FixedNull{}
		}
		return FixedPolyline{Lines: [][]FixedPoint{pointsToFixed(geom)}}
	case orb.MultiLineString:
		var lines [][]FixedPoint
		for _, line := range geom {
			if len(line) >= 2 {
				lines = append(lines, pointsToFixed(line))
			}
		}
		if len(lines) == 0 {
			return FixedNull{}
		}
		return FixedPolyline{Lines: lines}
	case orb.Polygon:
		if poly, ok := polygonToFixed(geom); ok {
			return FixedPolygon{Polygons: []FixedPoly{poly}}
		}
		return FixedNull{}
	case orb.MultiPolygon:
		var polys []FixedPoly
		for _, p := range geom {
			if poly, ok := polygonToFixed(p); ok {
				polys = append(polys, poly)
			}
		}
		if len(polys) == 0 {
			return FixedNull{}
		}
		return FixedPolygon{Polygons: polys}
	}
	return FixedNull{}
}
