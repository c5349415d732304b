// Package discovery locates the Webmention endpoint advertised by a target
// URL, per the discovery algorithm in the Webmention recommendation: the Link
// response header first, then link and anchor elements in the document.
package discovery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	maxBodySize    = 5 * 1024 * 1024
	defaultTimeout = 15 * time.Second
)

var linkHeaderURL = regexp.MustCompile(`<([^>]+)>`)

// Discoverer finds Webmention endpoints for outbound targets.
type Discoverer struct {
	client    HTTPClient
	timeout   time.Duration
	userAgent string
}

// New creates a Discoverer with the given HTTP client.
func New(client HTTPClient, userAgent string) *Discoverer {
	return &Discoverer{
		client:    client,
		timeout:   defaultTimeout,
		userAgent: userAgent,
	}
}

// SetTimeout overrides the default per-fetch timeout.
func (d *Discoverer) SetTimeout(t time.Duration) {
	d.timeout = t
}

// Discover returns the Webmention endpoint for target, or "" when the target
// does not advertise one. A network failure also yields ""; the caller
// records a no-endpoint result and does not retry until the source article
// changes again.
func (d *Discoverer) Discover(ctx context.Context, target string) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// HEAD is enough when the endpoint is advertised in a Link header.
	resp, err := d.fetch(ctx, http.MethodHead, target)
	if err == nil {
		endpoint := endpointFromHeader(resp.Header, finalURL(resp, target))
		_ = resp.Body.Close()
		if endpoint != "" {
			return endpoint
		}
	}

	resp, err = d.fetch(ctx, http.MethodGet, target)
	if err != nil {
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	base := finalURL(resp, target)
	if endpoint := endpointFromHeader(resp.Header, base); endpoint != "" {
		return endpoint
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return ""
	}
	return endpointFromHTML(string(body), base)
}

func (d *Discoverer) fetch(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &url.Error{Op: strings.ToLower(method), URL: target, Err: io.EOF}
	}
	return resp, nil
}

// endpointFromHeader scans Link response headers for a rel="webmention"
// entry. Relative endpoint URLs are resolved against base.
func endpointFromHeader(h http.Header, base string) string {
	for _, header := range h.Values("Link") {
		for _, part := range strings.Split(header, ",") {
			if !relIsWebmention(relFromLinkValue(part)) {
				continue
			}
			m := linkHeaderURL.FindStringSubmatch(part)
			if m == nil {
				continue
			}
			return resolveEndpoint(base, m[1])
		}
	}
	return ""
}

func relFromLinkValue(part string) string {
	for _, param := range strings.Split(part, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ""
}

// endpointFromHTML looks for the first link or anchor element carrying
// rel="webmention". An empty href means the page itself is the endpoint.
func endpointFromHTML(body, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	endpoint := ""
	doc.Find("link[rel], a[rel]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		rel, _ := sel.Attr("rel")
		if !relIsWebmention(rel) {
			return true
		}
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if strings.TrimSpace(href) == "" {
			endpoint = base
		} else {
			endpoint = resolveEndpoint(base, href)
		}
		return endpoint == ""
	})
	return endpoint
}

// relIsWebmention checks a space-separated rel list for the webmention value.
func relIsWebmention(rel string) bool {
	for _, r := range strings.Fields(rel) {
		if strings.EqualFold(r, "webmention") {
			return true
		}
	}
	return false
}

func resolveEndpoint(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// finalURL returns the URL the response was actually served from, after any
// redirects, so relative endpoints resolve correctly.
func finalURL(resp *http.Response, fallback string) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return fallback
}
