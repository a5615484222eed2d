package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	configPath := flag.String("config", ".env", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	args := flag.Args()
	if *help || len(args) == 0 {
		showHelp()
		os.Exit(0)
	}

	command := args[0]

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch command {
	case "import":
		cmdImport(args[1:], cfg)
	case "pack":
		cmdPack(args[1:], cfg)
	case "prepare":
		cmdPrepare(args[1:], cfg)
	case "serve":
		cmdServe(args[1:], cfg)
	case "stats":
		cmdStats(args[1:], cfg)
	case "upload":
		cmdUpload(args[1:], cfg)
	case "verify":
		cmdVerify(args[1:], cfg)
	default:
		slog.Error("unknown command", "command", command)
		showHelp()
		os.Exit(1)
	}
}

func openDatabaseOrExit(cfg *Config, dbPath string) *Database {
	path := dbPath
	if path == "" {
		path = cfg.Database.Path
	}
	db, err := OpenDatabase(path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	return db
}

// cmdImport ingests a GeoJSON file into the features partition
func cmdImport(args []string, cfg *Config) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	layer := fs.String("layer", "default", "Target layer for features without a layer property")
	minZoom := fs.Uint("min-zoom", 0, "Minimum zoom level for imported features")
	maxZoom := fs.Uint("max-zoom", maxZoomLevel, "Maximum zoom level for imported features")
	fs.Parse(args)

	if fs.NArg() != 1 {
		slog.Error("import requires exactly one input file")
		os.Exit(1)
	}

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	err := ImportGeoJSON(db, fs.Arg(0), ImportOptions{
		Layer:   *layer,
		MinZoom: uint32(*minZoom),
		MaxZoom: uint32(*maxZoom),
	})
	if err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}

// cmdPack builds the shared-string table and rewrites feature groups as packs
func cmdPack(args []string, cfg *Config) {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	fs.Parse(args)

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	if err := buildSharedStrings(db); err != nil {
		slog.Error("shared string scan failed", "error", err)
		os.Exit(1)
	}
	if err := packAllFeatures(db); err != nil {
		slog.Error("pack failed", "error", err)
		os.Exit(1)
	}
}

// cmdPrepare materializes the tile pyramid
func cmdPrepare(args []string, cfg *Config) {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	maxZoom := fs.Uint("max-zoom", 14, "Maximum zoom level to prepare")
	fs.Parse(args)

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	if err := prepareTiles(db, uint32(*maxZoom)); err != nil {
		slog.Error("prepare failed", "error", err)
		os.Exit(1)
	}
}

// cmdServe runs the tile HTTP server
func cmdServe(args []string, cfg *Config) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	port := fs.Int("port", cfg.Service.Port, "Port to listen on")
	fs.Parse(args)

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	if err := serveTiles(db, *port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// cmdStats prints store statistics
func cmdStats(args []string, cfg *Config) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	fs.Parse(args)

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	if err := databaseStats(db, func(line string) { fmt.Println(line) }); err != nil {
		slog.Error("stats failed", "error", err)
		os.Exit(1)
	}
}

// cmdUpload pushes prepared tiles to S3/R2
func cmdUpload(args []string, cfg *Config) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	fs.Parse(args)

	if cfg.S3.AccessKeyID == "" || cfg.S3.SecretAccessKey == "" {
		slog.Error("S3 credentials are required for upload")
		os.Exit(1)
	}

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	s3Client, err := NewS3Client(cfg.S3)
	if err != nil {
		slog.Error("failed to create S3 client", "error", err)
		os.Exit(1)
	}

	if _, err := s3Client.UploadTiles(context.Background(), db); err != nil {
		slog.Error("upload failed", "error", err)
		os.Exit(1)
	}
}

// cmdVerify decodes every prepared tile and reports integrity
func cmdVerify(args []string, cfg *Config) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (default from config)")
	fs.Parse(args)

	db := openDatabaseOrExit(cfg, *dbPath)
	defer db.Close()

	report, err := VerifyTiles(db)
	if err != nil {
		slog.Error("verify failed", "error", err)
		os.Exit(1)
	}
	report.Print()
	if !report.OK {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println(`tiles - vector tile storage and preparation engine

Usage:
  tiles [flags] <command> [command flags]

Commands:
  import <file.geojson>   Ingest features into the store
  pack                    Build shared strings and pack feature groups
  prepare -max-zoom=N     Materialize the tile pyramid
  serve -port=P           Serve tiles over HTTP
  stats                   Print store statistics
  upload                  Upload prepared tiles to S3/R2
  verify                  Decode and check every prepared tile

Flags:
  -config string          Path to config file (default ".env")
  -debug                  Enable debug logging`)
}
