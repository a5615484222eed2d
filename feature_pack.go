package main

import (
	"fmt"
	"log/slog"
)

// packBatchThreshold bounds the bytes of packed output buffered before the
// read transaction is committed and the packs are written back.
const packBatchThreshold = 64 * 1024 * 1024

// packAllFeatures rewrites every per-index-tile feature group in the
// features partition as a pack. Groups are consumed (deleted) as they are
// read; that transaction is committed and synced, and the batch's packs
// are then written in a second transaction. The two commits are separate:
// a failure between them leaves the batch's groups deleted with no packs
// written.
func packAllFeatures(db *Database) error {
	rt, err := db.BeginRead()
	if err != nil {
		return err
	}
	codingVec, err := loadCodingVec(rt)
	rt.Discard()
	if err != nil {
		return err
	}
	codingMap := codingMapOf(codingVec)

	logger := slog.With("op", "pack")
	totalPacks := 0

	var resumeKey []byte
	for {
		type packedGroup struct {
			key  []byte
			data []byte
		}
		var packed []packedGroup
		packedSize := 0

		txn, err := db.BeginWrite()
		if err != nil {
			return err
		}

		var groupTile Tile
		groupOpen := false
		var group [][]byte
		var consumed [][]byte

		flush := func() error {
			if !groupOpen || len(group) == 0 {
				return nil
			}
			data, err := packFeatures(groupTile, codingVec, codingMap, group)
			if err != nil {
				return err
			}
			packed = append(packed, packedGroup{key: featureKey(groupTile), data: data})
			packedSize += len(data)
			return nil
		}

		c := txn.Cursor(PartFeatures)
		var ok bool
		if resumeKey != nil {
			ok = c.SetRange(PartFeatures, resumeKey)
		} else {
			ok = c.First()
		}
		resumeKey = nil

		for ; ok; ok = c.Next() {
			thisTile, err := featureKeyToTile(c.Key())
			if err != nil {
				c.Close()
				txn.Discard()
				return err
			}

			if (!groupOpen || thisTile != groupTile) && packedSize >= packBatchThreshold {
				resumeKey = append([]byte(nil), c.Key()...)
				break
			}

			var these [][]byte
			unpackFeatures(c.Value(), func(view []byte) {
				these = append(these, append([]byte(nil), view...))
			})
			consumed = append(consumed, append([]byte(nil), c.Key()...))

			if !groupOpen || thisTile != groupTile {
				if err := flush(); err != nil {
					c.Close()
					txn.Discard()
					return err
				}
				groupTile = thisTile
				groupOpen = true
				group = these
			} else {
				group = append(group, these...)
			}
		}
		c.Close()

		if err := flush(); err != nil {
			txn.Discard()
			return err
		}

		// consumed groups leave the partition with the same transaction
		// that read them; the packs land after the sync below
		for _, key := range consumed {
			if err := txn.Delete(PartFeatures, key); err != nil {
				txn.Discard()
				return err
			}
		}

		if err := txn.Commit(); err != nil {
			return err
		}
		if err := db.Sync(); err != nil {
			return err
		}

		wb, err := db.BeginWrite()
		if err != nil {
			return err
		}
		for _, g := range packed {
			if err := wb.Put(PartFeatures, g.key, g.data); err != nil {
				wb.Discard()
				return err
			}
		}
		if err := wb.Commit(); err != nil {
			return err
		}

		totalPacks += len(packed)
		logger.Debug("pack batch written", "packs", len(packed), "bytes", packedSize)

		if resumeKey == nil {
			break
		}
	}

	logger.Info("features packed", "packs", totalPacks)
	return nil
}

// isPacked reports whether a features partition value carries a pack
// header; pre-pack groups fail the header bounds check.
func isPacked(value []byte) bool {
	_, _, err := packHeader(value)
	return err == nil
}

// verifyFeatureKeys checks the features partition invariant that every
// key decodes to an index zoom tile.
func verifyFeatureKeys(txn *ReadTxn) error {
	c := txn.Cursor(PartFeatures)
	defer c.Close()
	for ok := c.First(); ok; ok = c.Next() {
		if _, err := featureKeyToTile(c.Key()); err != nil {
			return fmt.Errorf("features partition: key %x: %w", c.Key(), err)
		}
	}
	return nil
}
