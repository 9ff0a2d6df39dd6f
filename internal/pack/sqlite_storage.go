package pack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver for the on-device package cache.
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a SQLite implementation of Storage backed by a single
// on-device database file.
type SQLiteStorage struct {
	db    *sql.DB
	quota int64
}

// NewSQLiteStorage opens the package database at path, creating the file and
// schema when missing. A non-positive quota falls back to DefaultQuotaBytes.
func NewSQLiteStorage(path string, quotaBytes int64) (*SQLiteStorage, error) {
	if quotaBytes <= 0 {
		quotaBytes = DefaultQuotaBytes
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening package database: %w", err)
	}

	// Single connection: one process owns the file and writes serially.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS packages (
			id            TEXT PRIMARY KEY,
			payload       BLOB NOT NULL,
			size_bytes    INTEGER NOT NULL,
			downloaded_at TIMESTAMP NOT NULL,
			expires_at    TIMESTAMP NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating package schema: %w", err)
	}

	return &SQLiteStorage{db: db, quota: quotaBytes}, nil
}

// Get retrieves a package by trail ID.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*TrailPackage, error) {
	query := `
		SELECT payload, size_bytes, downloaded_at, expires_at
		FROM packages
		WHERE id = ?
	`

	var (
		payload      []byte
		sizeBytes    int64
		downloadedAt time.Time
		expiresAt    time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload, &sizeBytes, &downloadedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}

	pkg, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding stored package %s: %w", id, err)
	}

	pkg.SizeBytes = sizeBytes
	pkg.DownloadedAt = downloadedAt
	pkg.ExpiresAt = expiresAt
	return pkg, nil
}

// Set stores a package, replacing any existing one with the same ID.
func (s *SQLiteStorage) Set(ctx context.Context, p *TrailPackage) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: package has no id", ErrPackageInvalid)
	}

	payload, err := EncodePayload(p)
	if err != nil {
		return err
	}

	var used int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM packages WHERE id != ?`, p.ID,
	).Scan(&used)
	if err != nil {
		return err
	}
	if used+p.SizeBytes > s.quota {
		return fmt.Errorf("%w: %d + %d bytes over %d", ErrQuotaExceeded, used, p.SizeBytes, s.quota)
	}

	query := `
		INSERT INTO packages (id, payload, size_bytes, downloaded_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload       = excluded.payload,
			size_bytes    = excluded.size_bytes,
			downloaded_at = excluded.downloaded_at,
			expires_at    = excluded.expires_at
	`

	_, err = s.db.ExecContext(ctx, query, p.ID, payload, p.SizeBytes, p.DownloadedAt, p.ExpiresAt)
	return err
}

// Delete removes a package by trail ID.
func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id)
	return err
}

// Has reports whether a package is cached for the trail ID.
func (s *SQLiteStorage) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM packages WHERE id = ?`, id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// StorageUsed returns the total bytes of cached packages.
func (s *SQLiteStorage) StorageUsed(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM packages`).Scan(&used)
	return used, err
}

// StorageQuota returns the configured storage budget.
func (s *SQLiteStorage) StorageQuota(_ context.Context) (int64, error) {
	return s.quota, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStorage implements Storage interface.
var _ Storage = (*SQLiteStorage)(nil)
