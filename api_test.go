package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTilePath(t *testing.T) {
	testCases := []struct {
		path string
		want Tile
		ok   bool
	}{
		{"/10/550/335.mvt", Tile{X: 550, Y: 335, Z: 10}, true},
		{"/0/0/0.mvt", Tile{X: 0, Y: 0, Z: 0}, true},
		{"/10/550/335", Tile{}, false},
		{"/10/550.mvt", Tile{}, false},
		{"/ten/550/335.mvt", Tile{}, false},
		{"/2/4/0.mvt", Tile{}, false}, // x out of range for z=2
	}
	for _, tc := range testCases {
		got, err := parseTilePath(tc.path)
		if tc.ok {
			if err != nil {
				t.Errorf("parseTilePath(%q): %v", tc.path, err)
			} else if got != tc.want {
				t.Errorf("parseTilePath(%q) = %v, want %v", tc.path, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("parseTilePath(%q) should fail", tc.path)
		}
	}
}

func TestTileServerHTTP(t *testing.T) {
	db := openTestDB(t)

	insertCornerPolygon(t, db)
	if err := buildSharedStrings(db); err != nil {
		t.Fatal(err)
	}
	if err := packAllFeatures(db); err != nil {
		t.Fatal(err)
	}
	if err := prepareTiles(db, 2); err != nil {
		t.Fatal(err)
	}

	server, err := NewTileServer(db)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("prepared tile", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/2/0/0.mvt", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.Len() == 0 {
			t.Error("expected tile bytes")
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.mapbox-vector-tile" {
			t.Errorf("content type = %q", ct)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing CORS header")
		}
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/2/0/0.mvt", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("bad path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
