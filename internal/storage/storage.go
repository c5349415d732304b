// Package storage defines the persistence interface for outbound Webmention
// state and its implementations.
package storage

import (
	"context"
	"time"

	"mdblog/internal/model"
)

// Storage is the interface for outbound-dispatch persistence: the links found
// in the site's own articles and the per-article scan marks.
type Storage interface {
	ListLinks(ctx context.Context, articleSlug string) ([]model.OutboundLink, error)
	UpsertLink(ctx context.Context, link *model.OutboundLink) error
	DeleteLink(ctx context.Context, articleSlug, targetURL string) error
	RecordSend(ctx context.Context, articleSlug, targetURL string, result model.SendResult, sentAt time.Time) error

	ScanMark(ctx context.Context, articleSlug string) (*time.Time, error)
	SetScanMark(ctx context.Context, articleSlug string, modifiedAt time.Time) error

	Close() error
}
