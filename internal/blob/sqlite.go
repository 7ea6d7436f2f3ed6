package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteTier stores objects in a single SQLite table. It backs single-node
// deployments where the server also publishes the objects under /blob/.
type SQLiteTier struct {
	db      *sql.DB
	baseURL string
}

// OpenSQLite opens the database at path, creating directories as needed, and
// ensures the schema exists.
func OpenSQLite(ctx context.Context, path, baseURL string) (*SQLiteTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	t := &SQLiteTier{db: db, baseURL: baseURL}
	if err := t.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the underlying database handle.
func (t *SQLiteTier) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *SQLiteTier) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blob_objects (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			content_type TEXT NOT NULL,
			access TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Get loads the object stored at key.
func (t *SQLiteTier) Get(ctx context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}

	var (
		data        []byte
		contentType string
		version     int64
		updatedStr  string
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT data, content_type, version, updated_at FROM blob_objects WHERE key = ?;`, key,
	).Scan(&data, &contentType, &version, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Object{}, fmt.Errorf("get blob object: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		updatedAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", updatedStr)
	}

	return Object{
		Key:         key,
		Data:        data,
		ContentType: contentType,
		Version:     strconv.FormatInt(version, 10),
		UpdatedAt:   updatedAt,
	}, nil
}

// Put replaces the object at key inside a transaction so the version check
// and the write cannot interleave with another writer.
func (t *SQLiteTier) Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if err := validateKey(key); err != nil {
		return PutResult{}, err
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		return PutResult{}, err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return PutResult{}, fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT version FROM blob_objects WHERE key = ?;`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return PutResult{}, fmt.Errorf("read blob version: %w", err)
	}

	currentStr := ""
	if exists {
		currentStr = strconv.FormatInt(current, 10)
	}
	if err := opts.Condition.check(key, currentStr, exists); err != nil {
		return PutResult{}, err
	}

	next := current + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO blob_objects (key, data, content_type, access, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data,
				 content_type = excluded.content_type,
				 access = excluded.access,
				 version = excluded.version,
				 updated_at = excluded.updated_at;`,
		key,
		data,
		opts.ContentType,
		string(opts.Access),
		next,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return PutResult{}, fmt.Errorf("put blob object: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PutResult{}, fmt.Errorf("commit put: %w", err)
	}

	return PutResult{Key: key, URL: PublicURL(t.baseURL, key), Version: strconv.FormatInt(next, 10)}, nil
}
