package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"mdblog/internal/model"
	"mdblog/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListLinks returns all outbound links recorded for an article.
func (s *SQLite) ListLinks(ctx context.Context, articleSlug string) ([]model.OutboundLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_slug, target_url, endpoint, last_sent_at, last_result, created_at
		 FROM outbound_links WHERE article_slug = ? ORDER BY id`, articleSlug,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbound links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.OutboundLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// UpsertLink creates or refreshes the record for (article_slug, target_url)
// and populates the link's ID and CreatedAt.
func (s *SQLite) UpsertLink(ctx context.Context, link *model.OutboundLink) error {
	now := time.Now().UTC().Format(timeLayout)
	var lastSent *string
	if link.LastSentAt != nil {
		v := link.LastSentAt.UTC().Format(timeLayout)
		lastSent = &v
	}
	if link.LastResult == "" {
		link.LastResult = model.SendPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbound_links (article_slug, target_url, endpoint, last_sent_at, last_result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(article_slug, target_url) DO UPDATE SET
		   endpoint = excluded.endpoint,
		   last_sent_at = excluded.last_sent_at,
		   last_result = excluded.last_result`,
		link.ArticleSlug, link.TargetURL, link.Endpoint, lastSent, string(link.LastResult), now,
	)
	if err != nil {
		return fmt.Errorf("upsert outbound link: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM outbound_links WHERE article_slug = ? AND target_url = ?`,
		link.ArticleSlug, link.TargetURL,
	)
	var created string
	if err := row.Scan(&link.ID, &created); err != nil {
		return fmt.Errorf("scan outbound link id: %w", err)
	}
	link.CreatedAt, _ = time.Parse(timeLayout, created)
	return nil
}

// DeleteLink removes the record for (article_slug, target_url).
func (s *SQLite) DeleteLink(ctx context.Context, articleSlug, targetURL string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM outbound_links WHERE article_slug = ? AND target_url = ?`,
		articleSlug, targetURL,
	)
	if err != nil {
		return fmt.Errorf("delete outbound link: %w", err)
	}
	return nil
}

// RecordSend stores the outcome of an outbound notification attempt.
func (s *SQLite) RecordSend(ctx context.Context, articleSlug, targetURL string, result model.SendResult, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbound_links SET last_result = ?, last_sent_at = ?
		 WHERE article_slug = ? AND target_url = ?`,
		string(result), sentAt.UTC().Format(timeLayout), articleSlug, targetURL,
	)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

// ScanMark returns the article modification time recorded at the last scan,
// or nil when the article has never been scanned.
func (s *SQLite) ScanMark(ctx context.Context, articleSlug string) (*time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT scanned_mtime FROM article_scans WHERE article_slug = ?`, articleSlug,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scan mark: %w", err)
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return nil, fmt.Errorf("parse scan mark: %w", err)
	}
	return &t, nil
}

// SetScanMark records the article modification time covered by a scan.
func (s *SQLite) SetScanMark(ctx context.Context, articleSlug string, modifiedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO article_scans (article_slug, scanned_mtime) VALUES (?, ?)
		 ON CONFLICT(article_slug) DO UPDATE SET scanned_mtime = excluded.scanned_mtime`,
		articleSlug, modifiedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("set scan mark: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLink(row scannable) (*model.OutboundLink, error) {
	var l model.OutboundLink
	var result string
	var lastSent, created sql.NullString
	err := row.Scan(&l.ID, &l.ArticleSlug, &l.TargetURL, &l.Endpoint, &lastSent, &result, &created)
	if err != nil {
		return nil, fmt.Errorf("scan outbound link: %w", err)
	}
	l.LastResult = model.SendResult(result)
	if lastSent.Valid {
		t, _ := time.Parse(timeLayout, lastSent.String)
		l.LastSentAt = &t
	}
	if created.Valid {
		l.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &l, nil
}
