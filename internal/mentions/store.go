// Package mentions persists inbound Webmention records as Markdown files
// with YAML front matter. It is the only code that touches the mention files;
// every other component goes through Store.
package mentions

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"mdblog/internal/model"
)

const incomingDir = "incoming"

var unsafeChars = regexp.MustCompile(`[^\w-]+`)

// Store is the file-backed mention store. Writes to the same post slug are
// serialized so concurrent notifications cannot lose updates.
type Store struct {
	root       string // <content_dir>/mentions
	hardDelete bool

	mu        sync.Mutex
	slugLocks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at <contentDir>/mentions. hardDelete
// selects the retraction policy applied by Delete.
func NewStore(contentDir string, hardDelete bool) (*Store, error) {
	root := filepath.Join(contentDir, "mentions")
	if err := os.MkdirAll(filepath.Join(root, incomingDir), 0o750); err != nil {
		return nil, fmt.Errorf("create mentions dir: %w", err)
	}
	return &Store{
		root:       root,
		hardDelete: hardDelete,
		slugLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// HardDelete reports the configured retraction policy.
func (s *Store) HardDelete() bool { return s.hardDelete }

// Put creates or overwrites the record for (mention.Source, mention.Target).
// The later write wins; a repeated submission is not an error.
func (s *Store) Put(mention *model.Mention) error {
	lock := s.slugLock(mention.PostSlug)
	lock.Lock()
	defer lock.Unlock()

	dir := s.slugDir(mention.PostSlug)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create mention dir: %w", err)
	}

	path := filepath.Join(dir, mentionFilename(mention.Source))

	// Keep the original receipt time across overwrites.
	if existing, err := readMentionFile(path); err == nil {
		if !existing.ReceivedAt.IsZero() {
			mention.ReceivedAt = existing.ReceivedAt
		}
	}
	if mention.ReceivedAt.IsZero() {
		mention.ReceivedAt = time.Now().UTC()
	}

	data, err := encodeMention(mention)
	if err != nil {
		return err
	}
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("write mention: %w", err)
	}
	return nil
}

// GetAll returns all non-deleted mentions for an article, ordered by
// ReceivedAt ascending. Only verified mentions are visible to readers; the
// caller filters pending ones out when rendering.
func (s *Store) GetAll(postSlug string) ([]model.Mention, error) {
	all, err := s.listSlug(postSlug)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Status == model.StatusDeleted {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// GetVerified returns the verified mentions for an article, ordered by
// ReceivedAt ascending.
func (s *Store) GetVerified(postSlug string) ([]model.Mention, error) {
	all, err := s.listSlug(postSlug)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, m := range all {
		if m.Status != model.StatusVerified {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListAll returns every stored mention, including soft-deleted ones, so the
// revalidation pass can skip or restore them.
func (s *Store) ListAll() ([]model.Mention, error) {
	dir := filepath.Join(s.root, incomingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mentions dir: %w", err)
	}

	var all []model.Mention
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ms, err := s.listSlug(e.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, ms...)
	}
	return all, nil
}

// SoftDelete marks the record as deleted but keeps the file on disk.
func (s *Store) SoftDelete(mention *model.Mention) error {
	lock := s.slugLock(mention.PostSlug)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	mention.Status = model.StatusDeleted
	mention.DeletedAt = &now

	data, err := encodeMention(mention)
	if err != nil {
		return err
	}
	path := filepath.Join(s.slugDir(mention.PostSlug), mentionFilename(mention.Source))
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("write mention: %w", err)
	}
	return nil
}

// HardRemove removes the record from disk entirely.
func (s *Store) HardRemove(mention *model.Mention) error {
	lock := s.slugLock(mention.PostSlug)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.slugDir(mention.PostSlug), mentionFilename(mention.Source))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mention: %w", err)
	}
	return nil
}

// Delete retracts a mention according to the configured policy.
func (s *Store) Delete(mention *model.Mention) error {
	if s.hardDelete {
		return s.HardRemove(mention)
	}
	return s.SoftDelete(mention)
}

func (s *Store) listSlug(postSlug string) ([]model.Mention, error) {
	dir := s.slugDir(postSlug)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mention dir: %w", err)
	}

	var out []model.Mention
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "webmention-") || !strings.HasSuffix(name, ".md") {
			continue
		}
		m, err := readMentionFile(filepath.Join(dir, name))
		if err != nil {
			// A malformed file must not hide the rest of the slug's mentions.
			continue
		}
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *Store) slugDir(postSlug string) string {
	return filepath.Join(s.root, incomingDir, safeFilename(postSlug))
}

func (s *Store) slugLock(postSlug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.slugLocks[postSlug]
	if !ok {
		lock = &sync.Mutex{}
		s.slugLocks[postSlug] = lock
	}
	return lock
}

// mentionFilename derives a stable, filesystem-safe name from the source URL:
// the source host for readability plus a short hash for uniqueness.
func mentionFilename(source string) string {
	host := ""
	if u, err := url.Parse(source); err == nil {
		host = strings.ReplaceAll(u.Host, ".", "-")
	}
	host = safeFilename(host)
	h := sha256.Sum256([]byte(source))
	return fmt.Sprintf("webmention-%s-%x.md", host, h[:4])
}

func safeFilename(text string) string {
	safe := unsafeChars.ReplaceAllString(text, "-")
	safe = strings.Trim(safe, "-")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return safe
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func readMentionFile(path string) (*model.Mention, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths are store-derived
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("read mention: %w", err)
	}
	return decodeMention(data)
}
