// Package store persists named arena layouts in sqlite so an operator can
// stage an obstacle course once and reload it across sessions.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/arena-rover/roverlink/internal/arena"
	"github.com/arena-rover/roverlink/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a named layout does not exist.
var ErrNotFound = errors.New("store: layout not found")

// Store wraps the sqlite database holding saved layouts.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the layout database at path and brings
// the schema up to date. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{DB: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies all pending migrations from the embedded set.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: create migrate instance: %w", err)
	}
	// Not closed: closing would also close the underlying DB connection.
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}
	return nil
}

// migrateLogger routes migrate output through the package logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("store: migrate: "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// LayoutInfo summarizes one saved layout.
type LayoutInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Obstacles int       `json:"obstacles"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveLayout stores the snapshot under the given name, replacing any earlier
// layout with that name. The occupancy grid is live robot data, not part of
// a staged course, so it is not persisted.
func (s *Store) SaveLayout(name string, snap arena.Snapshot) (int64, error) {
	if name == "" {
		return 0, errors.New("store: layout name required")
	}

	tx, err := s.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin save: %w", err)
	}
	defer tx.Rollback()

	// Child rows are removed explicitly: the foreign_keys pragma is
	// per-connection and the pool may hand this tx a connection that never
	// saw it.
	if _, err := tx.Exec("DELETE FROM layout_obstacles WHERE layout_id IN (SELECT id FROM layouts WHERE name = ?)", name); err != nil {
		return 0, fmt.Errorf("store: clear old obstacles: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM layouts WHERE name = ?", name); err != nil {
		return 0, fmt.Errorf("store: clear old layout: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO layouts (name, robot_x, robot_y, robot_facing) VALUES (?, ?, ?, ?)",
		name, snap.Robot.X, snap.Robot.Y, snap.Robot.Facing,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert layout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: layout id: %w", err)
	}

	for _, ob := range snap.Obstacles {
		_, err := tx.Exec(
			"INSERT INTO layout_obstacles (layout_id, obstacle_id, x, y, face, label) VALUES (?, ?, ?, ?, ?, ?)",
			id, ob.ID, ob.X, ob.Y, ob.Face, ob.Label,
		)
		if err != nil {
			return 0, fmt.Errorf("store: insert obstacle %d: %w", ob.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit save: %w", err)
	}
	return id, nil
}

// LoadLayout returns the snapshot saved under name.
func (s *Store) LoadLayout(name string) (arena.Snapshot, error) {
	var snap arena.Snapshot
	var id int64

	err := s.QueryRow(
		"SELECT id, robot_x, robot_y, robot_facing FROM layouts WHERE name = ?", name,
	).Scan(&id, &snap.Robot.X, &snap.Robot.Y, &snap.Robot.Facing)
	if errors.Is(err, sql.ErrNoRows) {
		return arena.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return arena.Snapshot{}, fmt.Errorf("store: load layout %q: %w", name, err)
	}

	rows, err := s.Query(
		"SELECT obstacle_id, x, y, face, label FROM layout_obstacles WHERE layout_id = ? ORDER BY obstacle_id", id,
	)
	if err != nil {
		return arena.Snapshot{}, fmt.Errorf("store: load obstacles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ob arena.Obstacle
		if err := rows.Scan(&ob.ID, &ob.X, &ob.Y, &ob.Face, &ob.Label); err != nil {
			return arena.Snapshot{}, fmt.Errorf("store: scan obstacle: %w", err)
		}
		snap.Obstacles = append(snap.Obstacles, ob)
	}
	if err := rows.Err(); err != nil {
		return arena.Snapshot{}, fmt.Errorf("store: read obstacles: %w", err)
	}
	return snap, nil
}

// ListLayouts returns every saved layout, newest first.
func (s *Store) ListLayouts() ([]LayoutInfo, error) {
	rows, err := s.Query(`
		SELECT l.id, l.name, l.created_at, COUNT(o.obstacle_id)
		FROM layouts l
		LEFT JOIN layout_obstacles o ON o.layout_id = l.id
		GROUP BY l.id
		ORDER BY l.created_at DESC, l.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list layouts: %w", err)
	}
	defer rows.Close()

	var out []LayoutInfo
	for rows.Next() {
		var info LayoutInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &info.Obstacles); err != nil {
			return nil, fmt.Errorf("store: scan layout: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read layouts: %w", err)
	}
	return out, nil
}

// DeleteLayout removes the layout saved under name.
func (s *Store) DeleteLayout(name string) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("store: begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM layout_obstacles WHERE layout_id IN (SELECT id FROM layouts WHERE name = ?)", name); err != nil {
		return fmt.Errorf("store: delete obstacles: %w", err)
	}
	res, err := tx.Exec("DELETE FROM layouts WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("store: delete layout %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete layout %q: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
