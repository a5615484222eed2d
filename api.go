package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// TileServer answers GET /{z}/{x}/{y}.mvt from the tiles partition, or by
// rendering on demand above the prepared range.
type TileServer struct {
	db          *Database
	ctx         *RenderCtx
	maxPrepared int
}

func NewTileServer(db *Database) (*TileServer, error) {
	ctx, err := makeRenderCtx(db)
	if err != nil {
		return nil, err
	}
	maxPrepared, err := db.maxPreparedZoom()
	if err != nil {
		return nil, err
	}
	return &TileServer{db: db, ctx: ctx, maxPrepared: maxPrepared}, nil
}

// RenderTile returns the MVT payload for t: a single key lookup within
// the prepared range, an on-demand build above it.
func (s *TileServer) RenderTile(t Tile) ([]byte, error) {
	txn, err := s.db.BeginRead()
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	if int(t.Z) <= s.maxPrepared {
		v, _, err := txn.Get(PartTiles, tileKey(t))
		return v, err
	}
	return renderTileFromStore(s.ctx, txn, t)
}

func (s *TileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t, err := parseTilePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	data, err := s.RenderTile(t)
	if err != nil {
		slog.Error("tile request failed", "tile", t.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Debug("tile served", "tile", t.String(), "bytes", len(data))
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func addCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

// parseTilePath parses "/z/x/y.mvt".
func parseTilePath(path string) (Tile, error) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".mvt") {
		return Tile{}, fmt.Errorf("invalid tile path %q", path)
	}
	z, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid z: %w", err)
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid x: %w", err)
	}
	y, err := strconv.ParseUint(strings.TrimSuffix(parts[2], ".mvt"), 10, 32)
	if err != nil {
		return Tile{}, fmt.Errorf("invalid y: %w", err)
	}
	t := Tile{X: uint32(x), Y: uint32(y), Z: uint32(z)}
	if !t.Valid() {
		return Tile{}, fmt.Errorf("invalid tile %v", t)
	}
	return t, nil
}

// serveTiles blocks serving tiles on the given port.
func serveTiles(db *Database, port int) error {
	server, err := NewTileServer(db)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", port)
	slog.Info("serving tiles", "addr", addr, "max_prepared_zoom", server.maxPrepared)
	return http.ListenAndServe(addr, server)
}
