package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pi-motion-recorder/recorder"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a capture is not in the catalog.
var ErrNotFound = errors.New("capture not found")

// schema.sql creates the capture index table.
//
//go:embed schema.sql
var schemaSQL string

// Entry is one indexed capture.
type Entry struct {
	ID string `json:"id"`
	recorder.CaptureInfo
	FrameCount int       `json:"frame_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Catalog indexes completed captures in SQLite.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// SQLite allows one writer; the delivery loop is the only one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Record indexes a capture and returns its id. Recording the same name again
// replaces the summary and keeps the id.
func (c *Catalog) Record(ctx context.Context, info recorder.CaptureInfo, frameCount int) (string, error) {
	query := `
		INSERT INTO captures (id, name, start_time, length_seconds, max_motion, max_sad, frame_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			start_time = excluded.start_time,
			length_seconds = excluded.length_seconds,
			max_motion = excluded.max_motion,
			max_sad = excluded.max_sad,
			frame_count = excluded.frame_count
		RETURNING id
	`

	var id string
	err := c.db.QueryRowContext(ctx, query,
		uuid.NewString(), info.Name, info.StartTime, info.LengthSeconds,
		info.MaxMotion, info.MaxSAD, frameCount,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to record capture %s: %w", info.Name, err)
	}
	return id, nil
}

// List returns up to limit captures, newest first. A limit of zero or less
// returns all of them.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, name, start_time, length_seconds, max_motion, max_sad, frame_count, created_at
		FROM captures
		ORDER BY start_time DESC, name DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate captures: %w", err)
	}
	return entries, nil
}

// Get returns the catalog entry for name, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (Entry, error) {
	query := `
		SELECT id, name, start_time, length_seconds, max_motion, max_sad, frame_count, created_at
		FROM captures
		WHERE name = ?
	`

	e, err := scanEntry(c.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, err
}

// Count returns the number of indexed captures.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captures").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var created int64
	err := s.Scan(&e.ID, &e.Name, &e.StartTime, &e.LengthSeconds,
		&e.MaxMotion, &e.MaxSAD, &e.FrameCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to scan capture: %w", err)
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	return e, nil
}
