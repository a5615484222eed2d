package main

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// prepareTask is one tile to materialize: the packs overlapping it are
// fetched under a read transaction, rendered without any lock, and the
// result written back with the rest of the batch.
type prepareTask struct {
	tile   Tile
	packs  []packEntry
	result []byte
}

type prepareStats struct {
	nTotal    uint64
	nFinished uint64
	nEmpty    uint64
	sumSize   uint64
	sumDur    time.Duration
}

// prepareManager hands out batches of tiles, walking the pyramid breadth
// first over the expansion of the base range at each zoom level. Only
// getBatch and finish take the mutex; rendering runs outside it.
type prepareManager struct {
	mu sync.Mutex

	maxZoom  uint32
	currZoom uint32

	baseRange tileRange
	currIter  *tileRangeIterator

	stats []prepareStats
}

func newPrepareManager(baseRange tileRange, maxZoom uint32) *prepareManager {
	return &prepareManager{
		maxZoom:   maxZoom,
		baseRange: baseRange,
		currIter:  newTileRangeIterator(baseRange.onZ(0)),
		stats:     make([]prepareStats, maxZoom+1),
	}
}

// getBatch returns up to 256 tiles; low zoom levels get smaller batches
// because each of their tiles covers far more packs.
func (m *prepareManager) getBatch() []prepareTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []prepareTask
	step := uint32(1)
	if m.currZoom < 8 {
		step = 1 << (8 - m.currZoom)
	}
	for i := uint32(0); i < 1<<8; i += step {
		if m.currZoom > m.maxZoom {
			break
		}
		t, ok := m.currIter.next()
		if !ok {
			m.currZoom++
			if m.currZoom > m.maxZoom {
				break
			}
			m.currIter = newTileRangeIterator(m.baseRange.onZ(m.currZoom))
			step = 1
			if m.currZoom < 8 {
				step = 1 << (8 - m.currZoom)
			}
			t, ok = m.currIter.next()
			if !ok {
				break
			}
		}
		m.stats[t.Z].nTotal++
		batch = append(batch, prepareTask{tile: t})
	}
	return batch
}

func (m *prepareManager) finish(t Tile, size int, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &m.stats[t.Z]
	stats.sumSize += uint64(size)
	stats.sumDur += dur
	stats.nFinished++
	if size == 0 {
		stats.nEmpty++
	}

	if (t.Z == m.currZoom && !m.currIter.done) || stats.nFinished < stats.nTotal {
		return
	}

	avg := uint64(0)
	if stats.nTotal > stats.nEmpty {
		avg = stats.sumSize / (stats.nTotal - stats.nEmpty)
	}
	slog.Info("zoom level prepared",
		"zoom", t.Z,
		"tiles", stats.nTotal,
		"empty", stats.nEmpty,
		"avg_bytes", avg,
		"duration", stats.sumDur.Round(time.Millisecond),
	)
}

// indexTileRange computes the AABB of all index tiles in the features
// partition.
func indexTileRange(db *Database) (tileRange, error) {
	r := tileRange{
		MinX: 1<<32 - 1, MinY: 1<<32 - 1,
		MaxX: 0, MaxY: 0,
		Z: zIndexDefault,
	}

	txn, err := db.BeginRead()
	if err != nil {
		return r, err
	}
	defer txn.Discard()

	c := txn.Cursor(PartFeatures)
	defer c.Close()
	found := false
	for ok := c.First(); ok; ok = c.Next() {
		t, err := featureKeyToTile(c.Key())
		if err != nil {
			return r, err
		}
		r.MinX = min(r.MinX, t.X)
		r.MinY = min(r.MinY, t.Y)
		r.MaxX = max(r.MaxX, t.X)
		r.MaxY = max(r.MaxY, t.Y)
		found = true
	}
	if !found {
		return tileRange{MinX: 1, MaxX: 0, Z: zIndexDefault}, nil
	}
	return r, nil
}

// prepareTiles materializes every tile of the pyramid up to maxZoom. One
// worker per core; each batch uses one read transaction for pack lookups
// and one write transaction for the results.
func prepareTiles(db *Database, maxZoom uint32) error {
	if maxZoom > maxZoomLevel {
		return fmt.Errorf("max zoom %d beyond supported maximum %d", maxZoom, maxZoomLevel)
	}

	baseRange, err := indexTileRange(db)
	if err != nil {
		return err
	}
	if baseRange.empty() {
		return fmt.Errorf("no features in store; nothing to prepare")
	}

	ctx, err := makeRenderCtx(db)
	if err != nil {
		return err
	}

	m := newPrepareManager(baseRange, maxZoom)
	workers := runtime.NumCPU()
	slog.Info("preparing tiles", "max_zoom", maxZoom, "workers", workers,
		"base_range", fmt.Sprintf("%d/%d-%d/%d", baseRange.MinX, baseRange.MinY, baseRange.MaxX, baseRange.MaxY))

	errCh := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := prepareWorker(db, ctx, m); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}

	txn, err := db.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := txn.PutMeta(metaKeyMaxPreparedZoom, strconv.Itoa(int(maxZoom))); err != nil {
		return err
	}
	return txn.Commit()
}

func prepareWorker(db *Database, ctx *RenderCtx, m *prepareManager) error {
	for {
		batch := m.getBatch()
		if len(batch) == 0 {
			return nil
		}

		rt, err := db.BeginRead()
		if err != nil {
			return err
		}
		for i := range batch {
			task := &batch[i]
			err := queryFeatures(rt, task.tile, func(packTile Tile, value []byte) error {
				task.packs = append(task.packs, packEntry{tile: packTile, data: value})
				return nil
			})
			if err != nil {
				rt.Discard()
				return err
			}
		}
		rt.Discard()

		for i := range batch {
			task := &batch[i]
			start := time.Now()
			result, err := renderTileFromPacks(ctx, task.tile, task.packs)
			if err != nil {
				// a corrupt pack fails this tile only
				slog.Error("tile build failed", "tile", task.tile.String(), "error", err)
				m.finish(task.tile, 0, time.Since(start))
				continue
			}
			task.result = result
			m.finish(task.tile, len(result), time.Since(start))
		}

		wt, err := db.BeginWrite()
		if err != nil {
			return err
		}
		for i := range batch {
			task := &batch[i]
			if len(task.result) == 0 {
				continue
			}
			if err := wt.Put(PartTiles, tileKey(task.tile), task.result); err != nil {
				wt.Discard()
				return err
			}
		}
		if err := wt.Commit(); err != nil {
			return err
		}
	}
}
