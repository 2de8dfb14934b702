// Package sqlite persists fetched calendar documents so a restarted kiosk
// keeps honouring the refresh interval instead of refetching every feed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kioskcal/internal/model"
)

const DriverName = "sqlite3"

type document struct {
	URL          string `db:"url"`
	Body         []byte `db:"body"`
	FetchedAt    int64  `db:"fetched_at"`
	ETag         string `db:"etag"`
	LastModified string `db:"last_modified"`
}

func (d document) convert() model.Document {
	return model.Document{
		URL:          d.URL,
		Body:         d.Body,
		FetchedAt:    time.Unix(0, d.FetchedAt),
		ETag:         d.ETag,
		LastModified: d.LastModified,
	}
}

// Cache is an ics.DocumentCache backed by a sqlite database.
type Cache struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Cache, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	c, err := NewCache(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func NewCache(db *sql.DB) (*Cache, error) {
	c := &Cache{
		db: sqlx.NewDb(db, DriverName),
	}
	// Feeds finish concurrently; sqlite allows a single writer.
	c.db.SetMaxOpenConns(1)
	if err := c.RunMigrations(); err != nil {
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(ctx context.Context, url string) (model.Document, bool, error) {
	var d document
	err := c.db.GetContext(ctx, &d, `
		SELECT url, body, fetched_at, etag, last_modified
		FROM documents
		WHERE url = ?
	`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, false, nil
	}
	if err != nil {
		return model.Document{}, false, err
	}
	return d.convert(), true, nil
}

func (c *Cache) Put(ctx context.Context, doc model.Document) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (url, body, fetched_at, etag, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE
			SET body = excluded.body,
				fetched_at = excluded.fetched_at,
				etag = excluded.etag,
				last_modified = excluded.last_modified;
	`, doc.URL, doc.Body, doc.FetchedAt.UnixNano(), doc.ETag, doc.LastModified)
	return err
}

// Prune removes documents whose URL is not in keep, e.g. after a feed was
// removed from the configuration.
func (c *Cache) Prune(ctx context.Context, keep []string) (int64, error) {
	if len(keep) == 0 {
		res, err := c.db.ExecContext(ctx, `DELETE FROM documents`)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	query, args, err := sqlx.In(`DELETE FROM documents WHERE url NOT IN (?)`, keep)
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
