// Package outbound finds cross-domain links in the site's own articles and
// notifies their Webmention endpoints, batched behind a process-wide
// throttle.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mdblog/internal/content"
	"mdblog/internal/model"
	"mdblog/internal/storage"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentSource lists and renders the site's articles.
type ContentSource interface {
	List() ([]content.Article, error)
	Render(markdown string) (string, error)
}

// Discoverer locates the Webmention endpoint for a target URL.
type Discoverer interface {
	Discover(ctx context.Context, target string) string
}

// sendJob is one queued outbound notification.
type sendJob struct {
	articleSlug string
	source      string
	target      string
	endpoint    string
	removal     bool // final notification for a link dropped from the article
}

const (
	defaultScanInterval = time.Minute
	flushPollInterval   = time.Second
	sendTimeout         = 15 * time.Second
)

// Dispatcher scans changed articles and dispatches outbound notifications.
type Dispatcher struct {
	store      storage.Storage
	source     ContentSource
	discoverer Discoverer
	client     HTTPClient
	throttle   *Throttle
	excluded   func(host string) bool
	userAgent  string
	log        *slog.Logger

	scanInterval time.Duration

	mu    sync.Mutex
	queue []sendJob
}

// New creates a Dispatcher. excluded reports hosts that never receive
// notifications; the site's own host must be among them.
func New(
	store storage.Storage,
	src ContentSource,
	discoverer Discoverer,
	client HTTPClient,
	throttleInterval time.Duration,
	excluded func(host string) bool,
	userAgent string,
	log *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:        store,
		source:       src,
		discoverer:   discoverer,
		client:       client,
		throttle:     NewThrottle(throttleInterval),
		excluded:     excluded,
		userAgent:    userAgent,
		log:          log,
		scanInterval: defaultScanInterval,
	}
}

// SetScanInterval overrides the default article scan interval.
func (d *Dispatcher) SetScanInterval(interval time.Duration) {
	d.scanInterval = interval
}

// Run starts the scan and flush loops, blocking until ctx is cancelled.
// Queued notifications are only ever released as a batch when the throttle
// window opens; a burst of article changes still produces at most one batch
// per window.
func (d *Dispatcher) Run(ctx context.Context) {
	d.scanAll(ctx)

	scanTicker := time.NewTicker(d.scanInterval)
	defer scanTicker.Stop()
	flushTicker := time.NewTicker(flushPollInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			d.scanAll(ctx)
		case <-flushTicker.C:
			d.Flush(ctx, time.Now())
		}
	}
}

// scanAll visits every article whose modification time advanced past its
// recorded scan mark.
func (d *Dispatcher) scanAll(ctx context.Context) {
	articles, err := d.source.List()
	if err != nil {
		d.log.Error("list articles", "error", err)
		return
	}

	for _, a := range articles {
		if ctx.Err() != nil {
			return
		}
		mark, err := d.store.ScanMark(ctx, a.Slug)
		if err != nil {
			d.log.Error("read scan mark", "slug", a.Slug, "error", err)
			continue
		}
		// Scan marks are stored at second granularity; compare accordingly
		// so an unchanged article is not rescanned every pass.
		if mark != nil && !a.ModifiedAt.Truncate(time.Second).After(*mark) {
			continue
		}
		d.scanArticle(ctx, a)
		if err := d.store.SetScanMark(ctx, a.Slug, a.ModifiedAt); err != nil {
			d.log.Error("set scan mark", "slug", a.Slug, "error", err)
		}
	}
}

// scanArticle diffs the article's current outbound links against the stored
// set. Current links get (re)discovery and a queued notification; links that
// disappeared get one final notification so the far side can re-verify and
// retract.
func (d *Dispatcher) scanArticle(ctx context.Context, a content.Article) {
	html, err := d.source.Render(a.Markdown)
	if err != nil {
		d.log.Error("render article", "slug", a.Slug, "error", err)
		return
	}
	targets := d.extractTargets(html)

	stored, err := d.store.ListLinks(ctx, a.Slug)
	if err != nil {
		d.log.Error("list outbound links", "slug", a.Slug, "error", err)
		return
	}
	storedByTarget := make(map[string]model.OutboundLink, len(stored))
	for _, l := range stored {
		storedByTarget[l.TargetURL] = l
	}

	for _, target := range targets {
		endpoint := d.discoverer.Discover(ctx, target)
		link := model.OutboundLink{
			ArticleSlug: a.Slug,
			TargetURL:   target,
			Endpoint:    endpoint,
			LastResult:  model.SendPending,
		}
		if prev, ok := storedByTarget[target]; ok {
			link.LastSentAt = prev.LastSentAt
		}
		if endpoint == "" {
			link.LastResult = model.SendNoEndpoint
		}
		if err := d.store.UpsertLink(ctx, &link); err != nil {
			d.log.Error("upsert outbound link", "slug", a.Slug, "target", target, "error", err)
			continue
		}
		if endpoint == "" {
			continue
		}
		d.enqueue(sendJob{
			articleSlug: a.Slug,
			source:      a.CanonicalURL,
			target:      target,
			endpoint:    endpoint,
		})
	}

	current := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		current[t] = struct{}{}
	}
	for _, l := range stored {
		if _, ok := current[l.TargetURL]; ok {
			continue
		}
		if l.Endpoint == "" {
			// Nothing to notify; just drop the record.
			if err := d.store.DeleteLink(ctx, a.Slug, l.TargetURL); err != nil {
				d.log.Error("delete outbound link", "slug", a.Slug, "target", l.TargetURL, "error", err)
			}
			continue
		}
		d.enqueue(sendJob{
			articleSlug: a.Slug,
			source:      a.CanonicalURL,
			target:      l.TargetURL,
			endpoint:    l.Endpoint,
			removal:     true,
		})
	}
}

// extractTargets collects the absolute cross-domain http(s) anchors from
// rendered article HTML, deduplicated and sorted for stable dispatch order.
func (d *Dispatcher) extractTargets(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var targets []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		href = strings.TrimRight(href, `.,;:!?)"]'`)
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		if u.Host == "" || d.excluded(u.Host) {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		seen[href] = struct{}{}
		targets = append(targets, href)
	})
	return targets
}

func (d *Dispatcher) enqueue(job sendJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, q := range d.queue {
		if q.source == job.source && q.target == job.target {
			return
		}
	}
	d.queue = append(d.queue, job)
}

// QueueLen returns the number of notifications waiting for the next batch.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Flush releases all queued notifications as one batch if the throttle
// window is open. A send failure for one link never blocks the others.
func (d *Dispatcher) Flush(ctx context.Context, now time.Time) {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	if !d.throttle.Allow(now) {
		d.mu.Unlock()
		return
	}
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	d.log.Info("dispatching outbound batch", "count", len(batch))
	for _, job := range batch {
		if ctx.Err() != nil {
			return
		}
		d.send(ctx, job)
	}
}

func (d *Dispatcher) send(ctx context.Context, job sendJob) {
	err := d.post(ctx, job)
	now := time.Now().UTC()

	switch {
	case err != nil && job.removal:
		// The row stays; the removal notification is retried on the next
		// article change.
		d.log.Info("outbound removal notification failed",
			"source", job.source, "target", job.target, "error", err)
		if rerr := d.store.RecordSend(ctx, job.articleSlug, job.target, model.SendFailure, now); rerr != nil {
			d.log.Error("record send", "target", job.target, "error", rerr)
		}
	case err != nil:
		d.log.Info("outbound notification failed",
			"source", job.source, "target", job.target, "error", err)
		if rerr := d.store.RecordSend(ctx, job.articleSlug, job.target, model.SendFailure, now); rerr != nil {
			d.log.Error("record send", "target", job.target, "error", rerr)
		}
	case job.removal:
		if derr := d.store.DeleteLink(ctx, job.articleSlug, job.target); derr != nil {
			d.log.Error("delete outbound link", "target", job.target, "error", derr)
		}
	default:
		if rerr := d.store.RecordSend(ctx, job.articleSlug, job.target, model.SendSuccess, now); rerr != nil {
			d.log.Error("record send", "target", job.target, "error", rerr)
		}
	}
}

// post delivers one form-encoded Webmention notification to an endpoint.
func (d *Dispatcher) post(ctx context.Context, job sendJob) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("source", job.source)
	form.Set("target", job.target)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
