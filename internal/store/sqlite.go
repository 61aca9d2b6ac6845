package store

import (
	"context"
	"database/sql"
	stdembed "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" //nolint:blankimports // registers the sqlite3 driver

	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

type SQLiteConfig struct {
	// Path is the directory holding the database file. It is created if missing.
	Path string `mapstructure:"path"`
}

const (
	DefaultSQLitePath = "db"
	sqliteFile        = "sitemap.sqlite3"
	sqliteBusyTimeout = 5000
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations stdembed.FS

// SQLite keeps every collection in one local database file, one row per entry.
// Similarity is computed client-side over the whole collection.
type SQLite struct {
	db   *sqlx.DB
	opts Options
	file string
}

type sqliteRow struct {
	ID        string `db:"id"`
	Document  string `db:"document"`
	Metadata  string `db:"metadata"`
	Embedding string `db:"embedding"`
}

func NewSQLite(ctx context.Context, cfg SQLiteConfig, opts Options) (*SQLite, error) {
	opts.setDefaults()
	dir := cfg.Path
	if dir == "" {
		dir = DefaultSQLitePath
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	file := filepath.Join(dir, sqliteFile)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", file, sqliteBusyTimeout)

	if err := migrateSQLite(dsn, opts.Logger); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	return &SQLite{db: db, opts: opts, file: file}, nil
}

// migrateSQLite applies the embedded schema on its own connection, which the
// migrate instance closes.
func migrateSQLite(dsn string, log *logger.Logger) error {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open sqlite migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("No pending sqlite migrations")
			return nil
		}
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	log.Info("Sqlite migrations applied")
	return nil
}

func (s *SQLite) Name() string { return s.opts.Name }

// File is the path of the database file.
func (s *SQLite) File() string { return s.file }

const (
	sqliteUpsert = `INSERT INTO entries (collection, id, document, metadata, embedding)
VALUES (:collection, :id, :document, :metadata, :embedding)
ON CONFLICT (collection, id) DO UPDATE SET
    document = excluded.document,
    metadata = excluded.metadata,
    embedding = excluded.embedding,
    updated_at = CURRENT_TIMESTAMP`
	sqliteInsert = `INSERT INTO entries (collection, id, document, metadata, embedding)
VALUES (:collection, :id, :document, :metadata, :embedding)
ON CONFLICT (collection, id) DO NOTHING`
)

func (s *SQLite) Upsert(ctx context.Context, e models.StoreEntry) error {
	if err := embed(ctx, s.opts.Embedder, &e); err != nil {
		return err
	}
	meta, vec, err := marshalFields(e)
	if err != nil {
		return err
	}
	args := map[string]any{
		"collection": s.opts.Name,
		"id":         e.ID,
		"document":   e.Document,
		"metadata":   meta,
		"embedding":  vec,
	}

	query := sqliteUpsert
	if !s.opts.Overwrite {
		query = sqliteInsert
	}
	res, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("sqlite write %s: %w", e.ID, err)
	}
	if !s.opts.Overwrite {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite write %s: %w", e.ID, err)
		}
		if n == 0 {
			return models.ErrDuplicateKey
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, include ...Include) ([]models.StoreEntry, error) {
	entries, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return project(entries, include), nil
}

func (s *SQLite) all(ctx context.Context) ([]models.StoreEntry, error) {
	var rows []sqliteRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, document, metadata, embedding FROM entries WHERE collection = ? ORDER BY id`, s.opts.Name)
	if err != nil {
		return nil, fmt.Errorf("sqlite read entries: %w", err)
	}
	out := make([]models.StoreEntry, 0, len(rows))
	for _, r := range rows {
		e := models.StoreEntry{ID: r.ID, Document: r.Document}
		if err := unmarshalFields(&e, r.Metadata, r.Embedding); err != nil {
			s.opts.Logger.Warn("skipping unreadable entry", logger.String("id", r.ID), logger.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLite) Query(ctx context.Context, text string, n int) ([]models.Hit, error) {
	q, err := embedQuery(ctx, s.opts.Embedder, text)
	if err != nil {
		return nil, err
	}
	entries, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return rank(entries, q, n), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM entries WHERE collection = ?`, s.opts.Name); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
