package main

import (
	"fmt"
	"sort"
)

// sizeStats is the count / sum / mean / q95 / max digest printed per
// partition and per zoom level.
type sizeStats struct {
	sizes []int
}

func (s *sizeStats) add(size int) {
	s.sizes = append(s.sizes, size)
}

func (s *sizeStats) format(label string) string {
	sum := 0
	for _, v := range s.sizes {
		sum += v
	}
	if len(s.sizes) == 0 {
		return fmt.Sprintf("%-14s > cnt: %6d", label, 0)
	}
	sort.Ints(s.sizes)
	return fmt.Sprintf("%-14s > cnt: %6d  sum: %9s  mean: %9s  q95: %9s  max: %9s",
		label,
		len(s.sizes),
		formatBytes(sum),
		formatBytes(sum/len(s.sizes)),
		formatBytes(s.sizes[len(s.sizes)*95/100]),
		formatBytes(s.sizes[len(s.sizes)-1]),
	)
}

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2fKB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.2fMB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.2fGB", float64(n)/(1024*1024*1024))
	}
}

// databaseStats prints payload statistics for all partitions. A tile key
// above the prepared zoom is a fatal inconsistency.
func databaseStats(db *Database, out func(string)) error {
	txn, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := verifyFeatureKeys(txn); err != nil {
		return err
	}

	var features, packs sizeStats
	fc := txn.Cursor(PartFeatures)
	for ok := fc.First(); ok; ok = fc.Next() {
		if isPacked(fc.Value()) {
			packs.add(len(fc.Value()))
		} else {
			features.add(len(fc.Value()))
		}
	}
	fc.Close()

	out(">> payload stats:")
	out(features.format("features:raw"))
	out(packs.format("features:pack"))

	maxPrepared, ok, err := txn.GetMeta(metaKeyMaxPreparedZoom)
	if err != nil {
		return err
	}
	if !ok {
		out("no tiles prepared!")
		return nil
	}
	maxZoom := 0
	if _, err := fmt.Sscanf(maxPrepared, "%d", &maxZoom); err != nil {
		return fmt.Errorf("bad %s value %q: %w", metaKeyMaxPreparedZoom, maxPrepared, err)
	}

	tileSizes := make([]sizeStats, maxZoom+1)
	total := 0
	tc := txn.Cursor(PartTiles)
	for ok := tc.First(); ok; ok = tc.Next() {
		t, err := tileKeyToTile(tc.Key())
		if err != nil {
			tc.Close()
			return err
		}
		if int(t.Z) > maxZoom {
			tc.Close()
			return fmt.Errorf("tile %v outside prepared range (max %d)", t, maxZoom)
		}
		tileSizes[t.Z].add(len(tc.Value()))
		total += len(tc.Value())
	}
	tc.Close()

	for z := 0; z <= maxZoom; z++ {
		out(tileSizes[z].format(fmt.Sprintf("tiles[z=%02d]", z)))
	}
	out("====")
	out(fmt.Sprintf("total: %s", formatBytes(total)))
	return nil
}
