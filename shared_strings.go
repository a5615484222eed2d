package main

import (
	"fmt"
	"log/slog"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frequent metadata strings are replaced by small integer codes at packing
// time. Code 0 is reserved to mean "inline string follows"; real codes
// start at 1. The table is built once, persisted in meta and immutable
// afterwards.

const minSharedStringUses = 8

// encodeStringList writes strings as length-prefixed concatenation.
func encodeStringList(strings []string) []byte {
	var buf []byte
	for _, s := range strings {
		buf = protowire.AppendVarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeStringList(data []byte) ([]string, error) {
	var out []string
	for len(data) > 0 {
		size, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, fmt.Errorf("string list: bad length: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if uint64(len(data)) < size {
			return nil, fmt.Errorf("string list: truncated entry")
		}
		out = append(out, string(data[:size]))
		data = data[size:]
	}
	return out, nil
}

// buildSharedStrings scans all pre-pack feature groups, counts metadata
// keys and values and persists the coding table for strings used at least
// minSharedStringUses times.
func buildSharedStrings(db *Database) error {
	counts := map[string]uint64{}

	txn, err := db.BeginRead()
	if err != nil {
		return err
	}
	c := txn.Cursor(PartFeatures)
	for ok := c.First(); ok; ok = c.Next() {
		var iterErr error
		unpackFeatures(c.Value(), func(view []byte) {
			f, err := deserializeFeature(view, nil)
			if err != nil {
				iterErr = fmt.Errorf("key %x: %w", c.Key(), err)
				return
			}
			for k, v := range f.Meta {
				counts[k]++
				counts[v]++
			}
		})
		if iterErr != nil {
			c.Close()
			txn.Discard()
			return iterErr
		}
	}
	c.Close()
	txn.Discard()

	var kept []string
	for s, n := range counts {
		if n >= minSharedStringUses {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if counts[kept[i]] != counts[kept[j]] {
			return counts[kept[i]] > counts[kept[j]]
		}
		return kept[i] < kept[j]
	})

	wt, err := db.BeginWrite()
	if err != nil {
		return err
	}
	defer wt.Discard()
	if err := wt.PutMeta(metaKeySharedStringTable, string(encodeStringList(kept))); err != nil {
		return err
	}
	if err := wt.Commit(); err != nil {
		return err
	}

	slog.Info("shared string table built",
		"distinct", len(counts), "coded", len(kept))
	return nil
}

// loadCodingVec returns the code -> string vector; index 0 is the reserved
// inline marker.
func loadCodingVec(txn *ReadTxn) ([]string, error) {
	v, ok, err := txn.GetMeta(metaKeySharedStringTable)
	if err != nil {
		return nil, err
	}
	vec := []string{""}
	if !ok {
		return vec, nil
	}
	table, err := decodeStringList([]byte(v))
	if err != nil {
		return nil, fmt.Errorf("shared string table: %w", err)
	}
	return append(vec, table...), nil
}

// codingMapOf inverts a coding vector into string -> code.
func codingMapOf(vec []string) map[string]uint32 {
	m := make(map[string]uint32, len(vec))
	for code := 1; code < len(vec); code++ {
		if _, exists := m[vec[code]]; !exists {
			m[vec[code]] = uint32(code)
		}
	}
	return m
}

func loadLayerNames(txn *ReadTxn) ([]string, error) {
	v, ok, err := txn.GetMeta(metaKeyLayerNames)
	if err != nil || !ok {
		return nil, err
	}
	names, err := decodeStringList([]byte(v))
	if err != nil {
		return nil, fmt.Errorf("layer names: %w", err)
	}
	return names, nil
}
