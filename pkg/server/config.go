package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/ruchat-server/pkg/datastore"
	"github.com/vovakirdan/ruchat-server/pkg/model"
	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

// Config holds server configuration.
type Config struct {
	ListenAddr         string        `yaml:"listen_addr"`          // TCP bind address (e.g. ":7878")
	MetricsAddr        string        `yaml:"metrics_addr"`         // HTTP bind address for /metrics (empty = disabled)
	DBPath             string        `yaml:"db_path"`              // SQLite database path (empty = in-memory store)
	RoomsFile          string        `yaml:"rooms_file"`           // YAML file defining rooms to create on startup
	MaxLineLength      int           `yaml:"max_line_length"`      // input lines are truncated to this many bytes
	SendQueue          int           `yaml:"send_queue"`           // per-session outbound queue length
	IdleTimeout        time.Duration `yaml:"idle_timeout"`         // close sessions idle this long (0 = never)
	DrainTimeout       time.Duration `yaml:"drain_timeout"`        // bound on queueing a reply and on flushing output when closing
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // periodic metrics log (0 = disabled)

	// CLI-only actions (run and exit)
	ExportUsers bool `yaml:"-"`
	ExportRooms bool `yaml:"-"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":7878",
		MetricsAddr:        ":7879",
		DBPath:             "ruchat.db",
		MaxLineLength:      protocol.DefaultMaxLine,
		SendQueue:          64,
		DrainTimeout:       2 * time.Second,
		MetricsLogInterval: 60 * time.Second,
	}
}

// sanitize replaces out-of-range values with defaults.
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = def.MaxLineLength
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys absent from
// the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// RoomYAML represents a room in YAML config and exports.
type RoomYAML struct {
	Name      string `yaml:"name"`
	CreatedAt string `yaml:"created_at,omitempty"`
}

// RoomsConfig is the top-level YAML for room presets and exports.
type RoomsConfig struct {
	Rooms []RoomYAML `yaml:"rooms"`
}

// UserYAML represents a user in YAML export. Credentials are never exported.
type UserYAML struct {
	Username  string `yaml:"username"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadRoomsFromYAML reads a rooms YAML file and persists its rooms.
func LoadRoomsFromYAML(ctx context.Context, path string, db datastore.Database) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}
	return ImportRoomsFromYAML(ctx, data, db)
}

// ImportRoomsFromYAML parses YAML data, persists rooms that do not exist
// yet, and returns the valid room names in file order.
func ImportRoomsFromYAML(ctx context.Context, data []byte, db datastore.Database) ([]string, error) {
	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	var names []string
	for _, r := range cfg.Rooms {
		name := model.NormalizeRoomName(r.Name)
		if err := model.ValidateRoomName(name); err != nil {
			slog.Error("skipping room from config", "name", r.Name, "err", err)
			continue
		}
		if err := db.CreateRoom(ctx, name); err != nil && !isExists(err) {
			return names, err
		}
		names = append(names, name)
	}

	slog.Info("imported rooms from YAML", "count", len(names))
	return names, nil
}

// ExportRoomsYAML exports all persisted rooms as YAML.
func ExportRoomsYAML(ctx context.Context, db datastore.Database) ([]byte, error) {
	rooms, err := db.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	cfg := RoomsConfig{Rooms: []RoomYAML{}}
	for _, r := range rooms {
		cfg.Rooms = append(cfg.Rooms, RoomYAML{
			Name:      r.Name,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&cfg)
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(ctx context.Context, db datastore.Database) ([]byte, error) {
	users, err := db.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	export := UsersExport{Users: []UserYAML{}}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			Username:  u.Username,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
