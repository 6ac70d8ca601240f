package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vovakirdan/ruchat-server/pkg/crypto"
	"github.com/vovakirdan/ruchat-server/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is the SQLite-backed Database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) a SQLite database and runs migrations.
// Pragmas go in the DSN so every pooled connection gets them.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash BLOB    NOT NULL,
		salt          BLOB    NOT NULL,
		online        INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL UNIQUE,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{version: 1, statements: []string{schema}},
		{version: 2, statements: []string{"CREATE INDEX IF NOT EXISTS idx_users_online ON users(online)"}},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// Register creates a new account with an Argon2id password hash.
func (s *SQLStore) Register(ctx context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	hash := crypto.HashPassword(password, salt)

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, salt) VALUES (?, ?, ?) ON CONFLICT(username) DO NOTHING",
		username, hash, salt)
	if err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("datastore: register: %w", model.ErrUserExists)
	}
	return nil
}

// Login verifies the password and marks the user online.
func (s *SQLStore) Login(ctx context.Context, username, password string) error {
	var hash, salt []byte
	err := s.db.QueryRowContext(ctx, "SELECT password_hash, salt FROM users WHERE username = ?", username).
		Scan(&hash, &salt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("datastore: login: %w", model.ErrUserNotFound)
	}
	if err != nil {
		return fmt.Errorf("datastore: login: %w", err)
	}
	if !crypto.VerifyPassword(password, salt, hash) {
		return fmt.Errorf("datastore: login: %w", model.ErrIncorrectPassword)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET online = 1 WHERE username = ?", username); err != nil {
		return fmt.Errorf("datastore: login: %w", err)
	}
	return nil
}

// Logout marks the user offline.
func (s *SQLStore) Logout(ctx context.Context, username string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET online = 0 WHERE username = ?", username); err != nil {
		return fmt.Errorf("datastore: logout: %w", err)
	}
	return nil
}

// ResetPresence marks every user offline.
func (s *SQLStore) ResetPresence(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET online = 0 WHERE online <> 0"); err != nil {
		return fmt.Errorf("datastore: reset presence: %w", err)
	}
	return nil
}

// ListUsers returns all users ordered by username.
func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username, online, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var online int
		var createdAt string
		if err := rows.Scan(&u.Username, &online, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.Online = online != 0
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---- Rooms ----

// CreateRoom persists a room name.
func (s *SQLStore) CreateRoom(ctx context.Context, name string) error {
	if err := model.ValidateRoomName(name); err != nil {
		return fmt.Errorf("datastore: create room: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "INSERT INTO rooms (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name)
	if err != nil {
		return fmt.Errorf("datastore: create room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: create room: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("datastore: create room: %w", model.ErrRoomExists)
	}
	return nil
}

// ListRooms returns persisted rooms in creation order.
func (s *SQLStore) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, created_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt string
		if err := rows.Scan(&r.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		r.CreatedAt = parsed
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}
