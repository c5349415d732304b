// Package verifier checks that a Webmention source page really links to its
// claimed target, and extracts display metadata from the source while it is
// at it.
package verifier

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mdblog/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Outcome is the tri-state protocol result of a verification fetch.
type Outcome string

// Verification outcomes. Unreachable is transient and must never be treated
// as a retraction signal; only NotFound is definitive.
const (
	Found       Outcome = "found"
	NotFound    Outcome = "not_found"
	Unreachable Outcome = "unreachable"
)

// Metadata is best-effort display information extracted from the source page.
type Metadata struct {
	Title          string
	AuthorName     string
	AuthorURL      string
	AuthorPhoto    string
	ContentSnippet string
	Type           model.MentionType
}

// Result is the outcome of verifying a (source, target) pair.
type Result struct {
	Outcome  Outcome
	Metadata Metadata
}

const (
	maxBodySize    = 5 * 1024 * 1024
	snippetMaxLen  = 240
	defaultTimeout = 15 * time.Second
)

// Verifier fetches source pages and confirms they link to a target.
type Verifier struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// New creates a Verifier with the given HTTP client.
func New(client HTTPClient, userAgent string) *Verifier {
	return &Verifier{
		client:    client,
		timeout:   defaultTimeout,
		userAgent: userAgent,
	}
}

// SetTimeout overrides the default per-fetch timeout.
func (v *Verifier) SetTimeout(d time.Duration) {
	v.timeout = d
}

// Verify fetches source and reports whether it links to target.
// Network failures, timeouts, and ambiguous HTTP statuses all fold into
// Unreachable; a fetched page without the link, or a 404/410 on the source,
// is the definitive NotFound.
func (v *Verifier) Verify(ctx context.Context, source, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Result{Outcome: Unreachable}
	}
	req.Header.Set("User-Agent", v.userAgent)

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{Outcome: Unreachable}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The source itself is gone: a definitive retraction.
		return Result{Outcome: NotFound}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{Outcome: Unreachable}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{Outcome: Unreachable}
	}

	base := source
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		// Unparseable HTML: fall back to a plain substring check, like a
		// receiver that only promises to look for the target URL in the body.
		if strings.Contains(string(body), target) {
			return Result{Outcome: Found, Metadata: Metadata{Type: model.MentionPlain}}
		}
		return Result{Outcome: NotFound}
	}

	matched, mentionType := findTargetLink(doc, base, target)
	if !matched {
		return Result{Outcome: NotFound}
	}

	meta := extractMetadata(doc)
	meta.Type = mentionType
	return Result{Outcome: Found, Metadata: meta}
}

// findTargetLink scans anchors and link elements for a hyperlink resolving to
// target, and classifies the mention from Microformats classes on the
// matching element.
func findTargetLink(doc *goquery.Document, base, target string) (bool, model.MentionType) {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}
	want := normalizeURL(target)

	matched := false
	mentionType := model.MentionPlain
	doc.Find("a[href], link[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}
		resolved := href
		if baseURL != nil {
			if ref, err := url.Parse(href); err == nil {
				resolved = baseURL.ResolveReference(ref).String()
			}
		}
		if normalizeURL(resolved) != want {
			return true
		}
		matched = true
		mentionType = classifyLink(sel)
		// A classified match ends the scan; a plain one keeps looking for a
		// more specific Microformats annotation elsewhere on the page.
		return mentionType == model.MentionPlain
	})
	return matched, mentionType
}

func classifyLink(sel *goquery.Selection) model.MentionType {
	class, _ := sel.Attr("class")
	for _, c := range strings.Fields(class) {
		switch c {
		case "u-like-of":
			return model.MentionLike
		case "u-repost-of":
			return model.MentionRepost
		case "u-in-reply-to":
			return model.MentionReply
		}
	}
	return model.MentionPlain
}

// extractMetadata pulls display information out of the source page: Open
// Graph and Twitter card tags first, then generic HTML, then h-card markup.
func extractMetadata(doc *goquery.Document) Metadata {
	var meta Metadata

	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && v != "" {
		meta.Title = v
	} else if v, ok := doc.Find(`meta[name="twitter:title"]`).Attr("content"); ok && v != "" {
		meta.Title = v
	} else {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if v, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok && v != "" {
		meta.AuthorName = v
	}

	card := doc.Find(".h-card").First()
	if card.Length() > 0 {
		if meta.AuthorName == "" {
			meta.AuthorName = strings.TrimSpace(card.Find(".p-name").First().Text())
		}
		if href, ok := card.Find("a.u-url").First().Attr("href"); ok {
			meta.AuthorURL = href
		}
		if src, ok := card.Find("img.u-photo").First().Attr("src"); ok {
			meta.AuthorPhoto = src
		}
	}

	snippet := ""
	if v, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && v != "" {
		snippet = v
	} else if s := doc.Find(".p-summary").First(); s.Length() > 0 {
		snippet = s.Text()
	} else if s := doc.Find(".e-content").First(); s.Length() > 0 {
		snippet = s.Text()
	}
	meta.ContentSnippet = collapseSnippet(snippet)

	return meta
}

func collapseSnippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > snippetMaxLen {
		s = string(runes[:snippetMaxLen]) + "..."
	}
	return s
}

// normalizeURL produces a comparison key that ignores the scheme, a trailing
// slash, and host case, so http://example.com/a/ and https://example.com/a
// compare equal.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	key := strings.ToLower(u.Host) + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
