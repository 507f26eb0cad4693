// Package store persists the emulated device's configuration in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/canconfig/internal/codec"
	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNewerSchema is returned when the database was written by a newer
// version of canconfig than the running binary.
var ErrNewerSchema = errors.New("database was created by a newer version of canconfig")

// ErrNotFound is returned by LoadConfig before any configuration was saved.
var ErrNotFound = errors.New("no configuration stored")

// Migration is one schema step for a component.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Revision is one saved configuration.
type Revision struct {
	ID      int64
	Config  codec.DeviceConfig
	Source  string
	SavedAt time.Time
}

// SQLiteStore is a device configuration store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) a SQLite database at path, applies the WAL pragmas
// and brings the configuration tables up to date.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// One writer; WAL lets readers run alongside it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite takes pragmas as statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background(), "device", deviceMigrations); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

var deviceMigrations = []Migration{
	{
		Version:     1,
		Description: "device configuration and history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE device_config (
					id         INTEGER  PRIMARY KEY CHECK (id = 1),
					payload    TEXT     NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE TABLE config_history (
					id       INTEGER  PRIMARY KEY AUTOINCREMENT,
					payload  TEXT     NOT NULL,
					source   TEXT     NOT NULL DEFAULT '',
					saved_at DATETIME NOT NULL
				);
			`)
			return err
		},
	},
}

// SaveConfig replaces the stored configuration and appends it to the history.
// source identifies the writer, typically a connection id.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg codec.DeviceConfig, source string) error {
	payload, err := codec.EncodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	now := time.Now().UTC()

	return s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO device_config (id, payload, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			payload, now,
		)
		if err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO config_history (payload, source, saved_at) VALUES (?, ?, ?)",
			payload, source, now,
		)
		if err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

// LoadConfig returns the stored configuration or ErrNotFound.
func (s *SQLiteStore) LoadConfig(ctx context.Context) (codec.DeviceConfig, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM device_config WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return codec.DeviceConfig{}, ErrNotFound
	}
	if err != nil {
		return codec.DeviceConfig{}, fmt.Errorf("load config: %w", err)
	}

	cfg, err := codec.DecodeConfig([]byte(payload))
	if err != nil {
		return codec.DeviceConfig{}, fmt.Errorf("decode stored config: %w", err)
	}
	return cfg, nil
}

// History returns up to limit saved configurations, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload, source, saved_at FROM config_history ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			r       Revision
			payload string
		)
		if err := rows.Scan(&r.ID, &payload, &r.Source, &r.SavedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if r.Config, err = codec.DecodeConfig([]byte(payload)); err != nil {
			return nil, fmt.Errorf("decode history %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Migrate applies the migrations of component that are not yet recorded in
// _migrations. Migrations must be in ascending Version order.
func (s *SQLiteStore) Migrate(ctx context.Context, component string, migrations []Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range migrations {
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM _migrations WHERE component = ? AND version = ?",
			component, m.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s/%d: %w", component, m.Version, err)
		}
		if count > 0 {
			continue
		}

		err = s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (component, version, description) VALUES (?, ?, ?)",
				component, m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			component   TEXT     NOT NULL,
			version     INTEGER  NOT NULL,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (component, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	return nil
}

// CheckVersion refuses a database last written by a newer binary and
// records currentVersion otherwise. "dev" always passes.
func (s *SQLiteStore) CheckVersion(ctx context.Context, currentVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _meta (
			id          INTEGER  PRIMARY KEY CHECK (id = 1),
			app_version TEXT     NOT NULL,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure meta table: %w", err)
	}

	var stored string
	err = s.db.QueryRowContext(ctx, "SELECT app_version FROM _meta WHERE id = 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO _meta (id, app_version) VALUES (1, ?)", currentVersion)
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	if stored != "dev" && currentVersion != "dev" &&
		semver.Compare(normalizeVersion(currentVersion), normalizeVersion(stored)) < 0 {
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, currentVersion)
	}

	if stored == currentVersion {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE _meta SET app_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1",
		currentVersion,
	)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	return nil
}

// normalizeVersion adds the "v" prefix semver expects.
func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
