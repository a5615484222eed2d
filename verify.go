package main

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/encoding/mvt"
)

// ZoomStats holds per-zoom-level tile statistics
type ZoomStats struct {
	Zoom       int
	TileCount  int
	TotalSize  int
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// TileIntegrityReport is the result of verifying the tiles partition
type TileIntegrityReport struct {
	MaxZoom      int
	OK           bool
	BadTiles     []string
	MissingZooms []int
	ZoomStats    map[int]*ZoomStats
}

// Print logs the report details
func (r *TileIntegrityReport) Print() {
	logger := slog.With("max_zoom", r.MaxZoom)

	if r.OK {
		logger.Info("tile integrity check PASSED", "zoom_levels", len(r.ZoomStats))
	} else {
		logger.Error("tile integrity check FAILED",
			"missing_zooms", r.MissingZooms, "bad_tiles", len(r.BadTiles))
	}

	for _, bad := range r.BadTiles {
		slog.Error("undecodable tile", "tile", bad)
	}

	for z := 0; z <= r.MaxZoom; z++ {
		if stats, ok := r.ZoomStats[z]; ok {
			slog.Info("zoom level stats",
				"zoom", z,
				"tiles", stats.TileCount,
				"size_bytes", stats.TotalSize,
				"x_range", fmt.Sprintf("%d-%d", stats.MinX, stats.MaxX),
				"y_range", fmt.Sprintf("%d-%d", stats.MinY, stats.MaxY),
			)
		} else {
			slog.Warn("zoom level MISSING", "zoom", z)
		}
	}
}

// VerifyTiles decodes every stored tile as MVT and reports per-zoom
// integrity against the prepared range.
func VerifyTiles(db *Database) (*TileIntegrityReport, error) {
	maxZoom, err := db.maxPreparedZoom()
	if err != nil {
		return nil, err
	}
	if maxZoom < 0 {
		return nil, fmt.Errorf("no tiles prepared")
	}

	report := &TileIntegrityReport{
		MaxZoom:   maxZoom,
		ZoomStats: map[int]*ZoomStats{},
	}

	txn, err := db.BeginRead()
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	c := txn.Cursor(PartTiles)
	defer c.Close()
	for ok := c.First(); ok; ok = c.Next() {
		t, err := tileKeyToTile(c.Key())
		if err != nil {
			return nil, err
		}

		if _, err := mvt.Unmarshal(c.Value()); err != nil {
			report.BadTiles = append(report.BadTiles, t.String())
			continue
		}

		stats, ok := report.ZoomStats[int(t.Z)]
		if !ok {
			stats = &ZoomStats{
				Zoom: int(t.Z),
				MinX: t.X, MaxX: t.X,
				MinY: t.Y, MaxY: t.Y,
			}
			report.ZoomStats[int(t.Z)] = stats
		}
		stats.TileCount++
		stats.TotalSize += len(c.Value())
		stats.MinX = min(stats.MinX, t.X)
		stats.MaxX = max(stats.MaxX, t.X)
		stats.MinY = min(stats.MinY, t.Y)
		stats.MaxY = max(stats.MaxY, t.Y)
	}

	for z := 0; z <= maxZoom; z++ {
		if _, ok := report.ZoomStats[z]; !ok {
			report.MissingZooms = append(report.MissingZooms, z)
		}
	}
	report.OK = len(report.MissingZooms) == 0 && len(report.BadTiles) == 0
	return report, nil
}
