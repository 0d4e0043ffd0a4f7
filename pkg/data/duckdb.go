package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS archives (
	work       VARCHAR NOT NULL,
	name       VARCHAR NOT NULL,
	volume     DOUBLE NOT NULL,
	chapter    DOUBLE NOT NULL,
	locator    VARCHAR NOT NULL,
	pages      INTEGER NOT NULL,
	path       VARCHAR NOT NULL,
	format     VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (work, name)
)`

// InitDuckDB opens (creating if needed) the ledger database at path.
func InitDuckDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Repository records produced archives.
type Repository struct {
	db *sql.DB
}

func NewDuckDBRepository(path string) (*Repository, error) {
	db, err := InitDuckDB(path)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveArchive inserts or replaces the record keyed by (work, name).
func (r *Repository) SaveArchive(rec *ArchiveRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(`INSERT OR REPLACE INTO archives
		(work, name, volume, chapter, locator, pages, path, format, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Work, rec.Name, float64(rec.Volume), float64(rec.Chapter),
		rec.Locator, rec.Pages, rec.Path, rec.Format, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save archive %s/%s: %w", rec.Work, rec.Name, err)
	}
	return nil
}

// ListArchives returns records ordered by work, volume, chapter. An empty
// work lists everything.
func (r *Repository) ListArchives(work string) ([]*ArchiveRecord, error) {
	query := `SELECT work, name, volume, chapter, locator, pages, path, format, created_at
		FROM archives`
	var args []any
	if work != "" {
		query += ` WHERE work = ?`
		args = append(args, work)
	}
	query += ` ORDER BY work, volume, chapter`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	defer rows.Close()

	var out []*ArchiveRecord
	for rows.Next() {
		var (
			rec             ArchiveRecord
			volume, chapter float64
		)
		if err := rows.Scan(&rec.Work, &rec.Name, &volume, &chapter, &rec.Locator,
			&rec.Pages, &rec.Path, &rec.Format, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Volume = Number(volume)
		rec.Chapter = Number(chapter)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
