// Package receiver accepts inbound Webmention notifications, applies the
// acceptance policy synchronously, and verifies accepted mentions off the
// request path.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"mdblog/internal/mentions"
	"mdblog/internal/model"
	"mdblog/internal/verifier"
)

// RejectReason is the machine-readable code returned to a rejected submitter.
type RejectReason string

// Rejection reasons, surfaced verbatim in the HTTP 400 body.
const (
	ReasonNotEnabled     RejectReason = "not_enabled"
	ReasonTargetMismatch RejectReason = "target_mismatch"
	ReasonUnknownTarget  RejectReason = "unknown_target"
	ReasonInvalidSource  RejectReason = "invalid_source"
)

// RejectError reports a policy rejection of an inbound notification.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("webmention rejected: %s", e.Reason)
}

// TargetResolver maps a target URL on this site to a published article slug.
type TargetResolver interface {
	ResolveTarget(target string) (string, bool)
}

// Notifier is the fire-and-forget operator notification sink.
type Notifier interface {
	MentionVerified(mention *model.Mention)
}

// Receiver handles inbound Webmention notifications.
type Receiver struct {
	store    *mentions.Store
	verifier *verifier.Verifier
	resolver TargetResolver
	notifier Notifier
	log      *slog.Logger

	enabled  bool
	siteHost string

	jobs chan job
}

type job struct {
	mention model.Mention
}

const jobQueueSize = 64

// New creates a Receiver. siteHost is the host of the configured site link;
// targets on any other host are rejected.
func New(
	store *mentions.Store,
	v *verifier.Verifier,
	resolver TargetResolver,
	notifier Notifier,
	enabled bool,
	siteHost string,
	log *slog.Logger,
) *Receiver {
	return &Receiver{
		store:    store,
		verifier: v,
		resolver: resolver,
		notifier: notifier,
		log:      log,
		enabled:  enabled,
		siteHost: siteHost,
		jobs:     make(chan job, jobQueueSize),
	}
}

// Receive applies the acceptance policy and, on acceptance, durably writes a
// pending mention and schedules its verification. The returned error is a
// *RejectError for policy rejections; any other error is a storage failure.
func (r *Receiver) Receive(ctx context.Context, source, target string) error {
	if !r.enabled {
		return &RejectError{Reason: ReasonNotEnabled}
	}

	targetURL, err := url.Parse(target)
	if err != nil || !strings.EqualFold(targetURL.Host, r.siteHost) {
		return &RejectError{Reason: ReasonTargetMismatch}
	}

	slug, ok := r.resolver.ResolveTarget(target)
	if !ok {
		return &RejectError{Reason: ReasonUnknownTarget}
	}

	sourceURL, err := url.Parse(source)
	if err != nil || !sourceURL.IsAbs() || sourceURL.Host == "" ||
		(sourceURL.Scheme != "http" && sourceURL.Scheme != "https") {
		return &RejectError{Reason: ReasonInvalidSource}
	}

	mention := model.Mention{
		Source:     source,
		Target:     target,
		PostSlug:   slug,
		Status:     model.StatusPending,
		Type:       model.MentionPlain,
		ReceivedAt: time.Now().UTC(),
	}
	if err := r.store.Put(&mention); err != nil {
		return fmt.Errorf("store pending mention: %w", err)
	}

	r.log.Info("webmention accepted", "source", source, "target", target, "slug", slug)

	select {
	case r.jobs <- job{mention: mention}:
	default:
		// Queue full: the pending record stays on disk and the next
		// revalidation pass picks it up.
		r.log.Warn("verification queue full", "source", source, "target", target)
	}
	return nil
}

// Run drains the verification queue, blocking until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.jobs:
			r.verifyPending(ctx, j.mention)
		}
	}
}

// verifyPending resolves a pending mention to verified, removed, or
// still-pending, per the verifier's tri-state result.
func (r *Receiver) verifyPending(ctx context.Context, mention model.Mention) {
	res := r.verifier.Verify(ctx, mention.Source, mention.Target)

	switch res.Outcome {
	case verifier.Found:
		now := time.Now().UTC()
		mention.Status = model.StatusVerified
		mention.VerifiedAt = &now
		mention.Type = res.Metadata.Type
		mention.Title = res.Metadata.Title
		mention.AuthorName = res.Metadata.AuthorName
		mention.AuthorURL = res.Metadata.AuthorURL
		mention.AuthorPhoto = res.Metadata.AuthorPhoto
		mention.ContentSnippet = res.Metadata.ContentSnippet

		if err := r.store.Put(&mention); err != nil {
			// Leave the record pending; revalidation will retry.
			r.log.Error("store verified mention", "source", mention.Source, "error", err)
			return
		}
		r.log.Info("webmention verified", "source", mention.Source, "target", mention.Target)
		if r.notifier != nil {
			go r.notifier.MentionVerified(&mention)
		}

	case verifier.NotFound:
		// The claimed link was never there: the pending record is discarded
		// rather than retained as deleted.
		if err := r.store.HardRemove(&mention); err != nil {
			r.log.Error("remove unverified mention", "source", mention.Source, "error", err)
			return
		}
		r.log.Info("webmention discarded", "source", mention.Source, "target", mention.Target)

	case verifier.Unreachable:
		// Transient; the mention stays pending for the next revalidation pass.
		r.log.Info("webmention verification unreachable",
			"source", mention.Source, "target", mention.Target)
	}
}
