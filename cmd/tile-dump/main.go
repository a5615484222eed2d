// tile-dump inspects one prepared tile from a tile store and prints its
// layers and features, either human readable or as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/syndtr/goleveldb/leveldb"
)

// TileInfo represents detailed information about a single tile
type TileInfo struct {
	Z         int         `json:"z"`
	X         int         `json:"x"`
	Y         int         `json:"y"`
	SizeBytes int         `json:"sizeBytes"`
	Layers    []LayerInfo `json:"layers"`
}

// LayerInfo represents a layer within a tile
type LayerInfo struct {
	Name         string        `json:"name"`
	Version      int           `json:"version"`
	Extent       int           `json:"extent"`
	FeatureCount int           `json:"featureCount"`
	Features     []FeatureInfo `json:"features"`
}

// FeatureInfo represents a feature within a layer
type FeatureInfo struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

func main() {
	dbPath := flag.String("db", "./tiles.db", "Path to the tile store")
	z := flag.Uint("z", 0, "Tile zoom")
	x := flag.Uint("x", 0, "Tile x")
	y := flag.Uint("y", 0, "Tile y")
	jsonOutput := flag.Bool("json", false, "Output in JSON format")
	verbose := flag.Bool("verbose", false, "Show all features (not just first 10)")
	flag.Parse()

	ldb, err := leveldb.OpenFile(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer ldb.Close()

	// tiles partition key: 't' + zoom byte + big endian (y<<32 | x)
	key := make([]byte, 10)
	key[0] = 't'
	key[1] = byte(*z)
	v := uint64(*y)<<32 | uint64(*x)
	for i := 0; i < 8; i++ {
		key[2+i] = byte(v >> (56 - 8*i))
	}

	data, err := ldb.Get(key, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tile %d/%d/%d not found: %v\n", *z, *x, *y, err)
		os.Exit(1)
	}

	layers, err := mvt.Unmarshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tile %d/%d/%d does not decode: %v\n", *z, *x, *y, err)
		os.Exit(1)
	}

	info := TileInfo{Z: int(*z), X: int(*x), Y: int(*y), SizeBytes: len(data)}
	for _, layer := range layers {
		li := LayerInfo{
			Name:         layer.Name,
			Version:      int(layer.Version),
			Extent:       int(layer.Extent),
			FeatureCount: len(layer.Features),
		}
		for i, feat := range layer.Features {
			if !*verbose && i >= 10 {
				break
			}
			li.Features = append(li.Features, FeatureInfo{
				Type:       string(feat.Geometry.GeoJSONType()),
				Properties: feat.Properties,
			})
		}
		info.Layers = append(info.Layers, li)
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("tile %d/%d/%d (%d bytes, %d layers)\n",
		info.Z, info.X, info.Y, info.SizeBytes, len(info.Layers))
	for _, layer := range info.Layers {
		fmt.Printf("  layer %q v%d extent=%d features=%d\n",
			layer.Name, layer.Version, layer.Extent, layer.FeatureCount)
		for _, feat := range layer.Features {
			fmt.Printf("    %-12s %v\n", feat.Type, feat.Properties)
		}
		if !*verbose && layer.FeatureCount > 10 {
			fmt.Printf("    ... and %d more\n", layer.FeatureCount-10)
		}
	}
}
