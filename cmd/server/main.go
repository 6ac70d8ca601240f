package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vovakirdan/ruchat-server/pkg/datastore"
	"github.com/vovakirdan/ruchat-server/pkg/logging"
	"github.com/vovakirdan/ruchat-server/pkg/server"
	"github.com/vovakirdan/ruchat-server/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override its values)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address for chat clients")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path (empty for an in-memory store)")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", "", "YAML file defining rooms to create on startup")
	flag.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Maximum input line length in bytes")
	flag.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "Per-session outbound queue length")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", 0, "Close sessions idle this long (0 disables)")
	flag.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	flag.BoolVar(&cfg.ExportRooms, "export-rooms", false, "Export all rooms as YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// File values first, then re-apply the flags given on the command line.
	if *configPath != "" {
		if err := server.LoadConfigFile(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		_ = flag.CommandLine.Parse(os.Args[1:])
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	db, err := openDatabase(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	if cfg.ExportUsers || cfg.ExportRooms {
		code := export(cfg, db)
		_ = db.Close()
		os.Exit(code)
	}

	slog.Info("starting ruchat server", "version", version.String())
	srv := server.New(cfg, server.Dependencies{DB: db})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func openDatabase(path string) (datastore.Database, error) {
	if path == "" {
		slog.Warn("no database path, accounts will not persist")
		return datastore.NewMemory(), nil
	}
	st, err := datastore.NewSQLStore(path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func export(cfg server.Config, db datastore.Database) int {
	ctx := context.Background()
	if cfg.ExportUsers {
		data, err := server.ExportUsersYAML(ctx, db)
		if err != nil {
			slog.Error("export users", "err", err)
			return 1
		}
		fmt.Print(string(data))
	}
	if cfg.ExportRooms {
		data, err := server.ExportRoomsYAML(ctx, db)
		if err != nil {
			slog.Error("export rooms", "err", err)
			return 1
		}
		fmt.Print(string(data))
	}
	return 0
}
