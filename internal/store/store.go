// Package store is the video record store (C1): an embedded, crash-durable
// single-node database with an atomic compare-and-set guard on a single row.
// It is the only component permitted to mutate a VideoRecord.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get when no record exists for the given id.
var ErrNotFound = errors.New("store: record not found")

// Store is a single-node SQLite-backed VideoRecord store. Writers are
// serialized through mu the way a single-writer embedded engine expects;
// tryAcquireForProcessing still expresses its guard as one SQL statement so
// the guarantee never depends on the mutex alone.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// New opens (creating if absent) the SQLite file at path and applies any
// pending schema migrations.
func New(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // a single-node embedded engine has one true writer

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	driver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{})
	if err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("up: %w", err)
	}
	logger.Info("schema up to date")
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database file is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a brand-new VideoRecord. It fails if the id already exists.
func (s *Store) Create(ctx context.Context, rec *VideoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_records
			(id, filename, status, progress, packager, callback_url, s3_path,
			 upload_to_s3, upload_type, callback_status, callback_retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.Status, rec.Progress, rec.Packager,
		nullableString(rec.CallbackURL), nullableString(rec.S3Path),
		boolToInt(rec.UploadToS3), rec.UploadType, rec.CallbackStatus,
		rec.CallbackRetryCount, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*VideoRecord, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q querier, id string) (*VideoRecord, error) {
	row := q.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return rec, nil
}

// ListAll returns every record, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListPendingCallbacks returns completed records whose webhook has not yet
// succeeded or exhausted its retry budget, oldest first.
func (s *Store) ListPendingCallbacks(ctx context.Context, maxAttempts int) ([]*VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE callback_url IS NOT NULL
		  AND callback_status = ?
		  AND callback_retry_count < ?
		  AND status = ?
		ORDER BY created_at ASC`, CallbackPending, maxAttempts, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("store: list pending callbacks: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Update applies patch to the record under the store's write lock, and
// returns the resulting record.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{}
	args := []interface{}{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
		if *patch.Status == StatusCompleted {
			sets = append(sets, "completed_at = ?")
			args = append(args, time.Now().UTC())
		}
	}
	if patch.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.StreamURL != nil {
		sets = append(sets, "stream_url = ?")
		args = append(args, *patch.StreamURL)
	}
	if patch.ThumbnailURL != nil {
		sets = append(sets, "thumbnail_url = ?")
		args = append(args, *patch.ThumbnailURL)
	}
	if patch.MP4URL != nil {
		sets = append(sets, "mp4_url = ?")
		args = append(args, *patch.MP4URL)
	}
	if patch.ClearError {
		sets = append(sets, "error = NULL")
	} else if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.CallbackStatus != nil {
		sets = append(sets, "callback_status = ?")
		args = append(args, *patch.CallbackStatus)
	}
	if patch.CallbackRetryCount != nil {
		sets = append(sets, "callback_retry_count = ?")
		args = append(args, *patch.CallbackRetryCount)
	}
	if patch.CallbackLastAttempt != nil {
		sets = append(sets, "callback_last_attempt = ?")
		args = append(args, patch.CallbackLastAttempt.UTC())
	}

	if len(sets) == 0 {
		return s.get(ctx, s.db, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE video_records SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.get(ctx, s.db, id)
}

// TryAcquireForProcessing is the atomic guard described in the design
// notes: it attempts, in one statement, the transition
//
//	status IN (uploading, failed) OR (status = processing AND progress <= 10)
//	  => status = processing, progress = 10
//
// and reports whether THIS caller won the race, plus the record's current
// state either way. A worker that lost the race must not invoke FFmpeg.
func (s *Store) TryAcquireForProcessing(ctx context.Context, id string) (acquired bool, current *VideoRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE video_records
		SET status = ?, progress = 10
		WHERE id = ?
		  AND (status IN (?, ?) OR (status = ? AND progress <= 10))`,
		StatusProcessing, id, StatusUploading, StatusFailed, StatusProcessing)
	if err != nil {
		return false, nil, fmt.Errorf("store: acquire: %w", err)
	}
	n, _ := res.RowsAffected()

	rec, err := s.get(ctx, s.db, id)
	if err != nil {
		return false, nil, err
	}
	return n == 1, rec, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const selectColumns = `
	SELECT id, filename, status, progress, stream_url, thumbnail_url, mp4_url,
	       created_at, completed_at, error, packager, callback_url,
	       callback_status, callback_retry_count, callback_last_attempt,
	       s3_path, upload_to_s3, upload_type
	FROM video_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*VideoRecord, error) {
	var rec VideoRecord
	var uploadToS3 int
	var streamURL, thumbnailURL, mp4URL, errStr, callbackURL, s3Path sql.NullString
	var completedAt, callbackLastAttempt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.Status, &rec.Progress,
		&streamURL, &thumbnailURL, &mp4URL,
		&rec.CreatedAt, &completedAt, &errStr, &rec.Packager,
		&callbackURL, &rec.CallbackStatus, &rec.CallbackRetryCount, &callbackLastAttempt,
		&s3Path, &uploadToS3, &rec.UploadType,
	)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UploadToS3 = uploadToS3 != 0
	if streamURL.Valid {
		rec.StreamURL = &streamURL.String
	}
	if thumbnailURL.Valid {
		rec.ThumbnailURL = &thumbnailURL.String
	}
	if mp4URL.Valid {
		rec.MP4URL = &mp4URL.String
	}
	if errStr.Valid {
		rec.Error = &errStr.String
	}
	if callbackURL.Valid {
		rec.CallbackURL = &callbackURL.String
	}
	if s3Path.Valid {
		rec.S3Path = &s3Path.String
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	if callbackLastAttempt.Valid {
		t := callbackLastAttempt.Time.UTC()
		rec.CallbackLastAttempt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*VideoRecord, error) {
	var out []*VideoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
