// Package content provides access to the site's published articles: Markdown
// files with metadata encoded as leading comment headers,
// e.g. [//]: # (title: Hello).
package content

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

var (
	metadataRegex    = regexp.MustCompile(`^\[//]: # \(([^:]+):\s*(.*)\)\s*$`)
	titleHeaderRegex = regexp.MustCompile(`^#\s*((\[(.*)])|(.*))`)
)

// Article is a published page.
type Article struct {
	Slug         string
	Title        string
	CanonicalURL string
	Published    time.Time
	ModifiedAt   time.Time
	Markdown     string
}

// Library lists and renders the site's Markdown articles.
type Library struct {
	pagesDir string
	baseURL  string
	md       goldmark.Markdown
}

// NewLibrary creates a Library rooted at contentDir. If a `markdown`
// subdirectory exists it is used as the article root, otherwise contentDir
// itself is.
func NewLibrary(contentDir, baseURL string) *Library {
	pagesDir := filepath.Join(contentDir, "markdown")
	if fi, err := os.Stat(pagesDir); err != nil || !fi.IsDir() {
		pagesDir = contentDir
	}
	return &Library{
		pagesDir: pagesDir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		md:       goldmark.New(),
	}
}

// List returns all published articles, including their raw Markdown bodies.
func (l *Library) List() ([]Article, error) {
	var articles []Article
	err := filepath.WalkDir(l.pagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Stored mentions live under the content dir too; they are
			// records, not articles.
			if d.Name() == "mentions" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".md") {
			return nil
		}
		a, err := l.load(path)
		if err != nil {
			return err
		}
		articles = append(articles, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk articles: %w", err)
	}
	return articles, nil
}

// Get returns a single article by slug.
func (l *Library) Get(slug string) (Article, error) {
	path, ok := l.slugPath(slug)
	if !ok {
		return Article{}, fmt.Errorf("article %q: %w", slug, fs.ErrNotExist)
	}
	return l.load(path)
}

// Exists reports whether slug names a published article.
func (l *Library) Exists(slug string) bool {
	_, ok := l.slugPath(slug)
	return ok
}

// ResolveTarget maps an article URL on this site back to its slug.
// The second return is false when the URL does not name a published article.
func (l *Library) ResolveTarget(target string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	p := strings.Trim(u.Path, "/")
	slug, ok := strings.CutPrefix(p, "article/")
	if !ok || slug == "" {
		return "", false
	}
	if !l.Exists(slug) {
		return "", false
	}
	return slug, true
}

// Render converts an article's Markdown body to HTML.
func (l *Library) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := l.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func (l *Library) slugPath(slug string) (string, bool) {
	clean := filepath.Clean(slug)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", false
	}
	path := filepath.Join(l.pagesDir, clean+".md")
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return path, true
}

func (l *Library) load(path string) (Article, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from the article walk
	if err != nil {
		return Article{}, fmt.Errorf("read article: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Article{}, fmt.Errorf("stat article: %w", err)
	}

	rel, err := filepath.Rel(l.pagesDir, path)
	if err != nil {
		return Article{}, fmt.Errorf("article path: %w", err)
	}
	slug := filepath.ToSlash(strings.TrimSuffix(rel, ".md"))

	a := Article{
		Slug:         slug,
		CanonicalURL: l.baseURL + "/article/" + slug,
		ModifiedAt:   fi.ModTime().UTC(),
		Markdown:     string(data),
	}
	parseMetadata(&a, data)
	if a.Title == "" {
		a.Title = inferTitle(data, filepath.Base(path))
	}
	return a, nil
}

// parseMetadata reads the leading comment-header block of an article.
// The block ends at the first line that is not a metadata comment.
func parseMetadata(a *Article, data []byte) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := metadataRegex.FindStringSubmatch(line)
		if m == nil {
			return
		}
		key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		switch key {
		case "title":
			a.Title = value
		case "published":
			if t, err := time.Parse("2006-01-02", value); err == nil {
				a.Published = t
			} else if t, err := time.Parse(time.RFC3339, value); err == nil {
				a.Published = t
			}
		}
	}
}

// inferTitle falls back to the first heading line, then the file name.
func inferTitle(data []byte, fallback string) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || metadataRegex.MatchString(line) {
			continue
		}
		if m := titleHeaderRegex.FindStringSubmatch(line); m != nil {
			if m[3] != "" {
				return m[3]
			}
			return m[1]
		}
		break
	}
	return fallback
}
