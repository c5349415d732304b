// Package revalidator periodically re-verifies stored mentions and retracts
// the ones whose sources no longer corroborate the link.
package revalidator

import (
	"context"
	"log/slog"
	"time"

	"mdblog/internal/mentions"
	"mdblog/internal/model"
	"mdblog/internal/verifier"
)

// defaultInterval is deliberately distinct from (and much longer than) the
// outbound throttle window.
const defaultInterval = 12 * time.Hour

// Revalidator walks the stored mentions on a recurring interval and applies
// the retraction policy.
type Revalidator struct {
	store    *mentions.Store
	verifier *verifier.Verifier
	log      *slog.Logger
	interval time.Duration
}

// New creates a Revalidator with the default interval.
func New(store *mentions.Store, v *verifier.Verifier, log *slog.Logger) *Revalidator {
	return &Revalidator{
		store:    store,
		verifier: v,
		log:      log,
		interval: defaultInterval,
	}
}

// SetInterval overrides the default revalidation interval.
func (r *Revalidator) SetInterval(d time.Duration) {
	r.interval = d
}

// Run starts the revalidation loop, blocking until ctx is cancelled.
func (r *Revalidator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Pass(ctx)
		}
	}
}

// Pass re-verifies every stored mention once. Transient fetch failures leave
// the prior status untouched; only a definitive NotFound triggers retraction.
func (r *Revalidator) Pass(ctx context.Context) {
	all, err := r.store.ListAll()
	if err != nil {
		r.log.Error("list mentions", "error", err)
		return
	}

	for i := range all {
		if ctx.Err() != nil {
			return
		}
		r.revalidate(ctx, &all[i])
	}
}

func (r *Revalidator) revalidate(ctx context.Context, m *model.Mention) {
	res := r.verifier.Verify(ctx, m.Source, m.Target)

	switch res.Outcome {
	case verifier.Found:
		r.restore(m, res.Metadata)

	case verifier.NotFound:
		switch m.Status {
		case model.StatusVerified:
			if err := r.store.Delete(m); err != nil {
				r.log.Error("retract mention", "source", m.Source, "error", err)
				return
			}
			r.log.Info("mention retracted", "source", m.Source, "target", m.Target)
		case model.StatusPending:
			// Never materialized; remove rather than retain as deleted.
			if err := r.store.HardRemove(m); err != nil {
				r.log.Error("remove pending mention", "source", m.Source, "error", err)
				return
			}
			r.log.Info("pending mention removed", "source", m.Source, "target", m.Target)
		case model.StatusDeleted:
			// Already retracted; nothing to do.
		}

	case verifier.Unreachable:
		// Transient: retried on the next pass, whatever the prior status.
	}
}

// restore promotes a mention to verified with fresh metadata. This covers
// pending mentions whose first fetch failed, verified mentions (metadata
// refresh), and soft-deleted mentions whose source relinked.
func (r *Revalidator) restore(m *model.Mention, meta verifier.Metadata) {
	wasVerified := m.Status == model.StatusVerified

	now := time.Now().UTC()
	m.Status = model.StatusVerified
	if m.VerifiedAt == nil || !wasVerified {
		m.VerifiedAt = &now
	}
	m.DeletedAt = nil
	m.Type = meta.Type
	m.Title = meta.Title
	m.AuthorName = meta.AuthorName
	m.AuthorURL = meta.AuthorURL
	m.AuthorPhoto = meta.AuthorPhoto
	m.ContentSnippet = meta.ContentSnippet

	if err := r.store.Put(m); err != nil {
		r.log.Error("store revalidated mention", "source", m.Source, "error", err)
		return
	}
	if !wasVerified {
		r.log.Info("mention verified", "source", m.Source, "target", m.Target)
	}
}
