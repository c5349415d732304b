package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mdblog/internal/content"
	"mdblog/internal/mentions"
	"mdblog/internal/model"
	"mdblog/internal/receiver"
	"mdblog/internal/verifier"
)

type stubTransport struct{}

func (stubTransport) Do(_ *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("<html></html>")),
	}, nil
}

type noopNotifier struct{}

func (noopNotifier) MentionVerified(_ *model.Mention) {}

func newTestServer(t *testing.T, enabled bool) (http.Handler, *mentions.Store, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello-world.md"), []byte("# Hello, World\n\nbody\n"), 0o644); err != nil {
		t.Fatalf("write article: %v", err)
	}

	library := content.NewLibrary(dir, "https://blog.example")
	store, err := mentions.NewStore(dir, false)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	recv := receiver.New(store, verifier.New(stubTransport{}, "test-agent"),
		library, noopNotifier{}, enabled, "blog.example", log)

	router := NewRouter()
	SetupRoutes(router,
		NewWebmentionHandler(recv),
		NewArticleHandler(library, store, "https://blog.example/webmentions"))
	return router, store, dir
}

func postWebmention(t *testing.T, h http.Handler, source, target string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("source", source)
	form.Set("target", target)
	req := httptest.NewRequest(http.MethodPost, "/webmentions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebmentionAccepted(t *testing.T) {
	h, store, _ := newTestServer(t, true)

	rec := postWebmention(t, h,
		"https://other.example/post", "https://blog.example/article/hello-world")
	if diff := cmp.Diff(http.StatusAccepted, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s\nbody: %s", diff, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"status": "accepted"}, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	all, err := store.GetAll("hello-world")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d stored mentions, want 1", len(all))
	}
}

func TestWebmentionRejections(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		source     string
		target     string
		wantReason string
	}{
		{
			name:       "feature disabled",
			enabled:    false,
			source:     "https://other.example/post",
			target:     "https://blog.example/article/hello-world",
			wantReason: "not_enabled",
		},
		{
			name:       "foreign target",
			enabled:    true,
			source:     "https://other.example/post",
			target:     "https://elsewhere.example/article/hello-world",
			wantReason: "target_mismatch",
		},
		{
			name:       "unknown article",
			enabled:    true,
			source:     "https://other.example/post",
			target:     "https://blog.example/article/missing",
			wantReason: "unknown_target",
		},
		{
			name:       "relative source",
			enabled:    true,
			source:     "/post",
			target:     "https://blog.example/article/hello-world",
			wantReason: "invalid_source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestServer(t, tt.enabled)
			rec := postWebmention(t, h, tt.source, tt.target)

			if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
				t.Fatalf("status mismatch (-want +got):\n%s", diff)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if diff := cmp.Diff(map[string]string{"error": tt.wantReason}, body); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestArticlePageAdvertisesEndpointAndShowsVerifiedMentions(t *testing.T) {
	h, store, _ := newTestServer(t, true)

	now := time.Now().UTC()
	verified := model.Mention{
		Source: "https://other.example/reply", Target: "https://blog.example/article/hello-world",
		PostSlug: "hello-world", Status: model.StatusVerified, Type: model.MentionReply,
		Title: "A Reply", AuthorName: "Jo", ReceivedAt: now, VerifiedAt: &now,
	}
	pending := model.Mention{
		Source: "https://pending.example/post", Target: "https://blog.example/article/hello-world",
		PostSlug: "hello-world", Status: model.StatusPending, Type: model.MentionPlain,
		ReceivedAt: now,
	}
	for _, m := range []model.Mention{verified, pending} {
		if err := store.Put(&m); err != nil {
			t.Fatalf("put mention: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/article/hello-world", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	wantLink := `<https://blog.example/webmentions>; rel="webmention"`
	if diff := cmp.Diff(wantLink, rec.Header().Get("Link")); diff != "" {
		t.Errorf("Link header mismatch (-want +got):\n%s", diff)
	}

	page := rec.Body.String()
	if !strings.Contains(page, `rel="webmention" href="https://blog.example/webmentions"`) {
		t.Errorf("page does not advertise the endpoint:\n%s", page)
	}
	if !strings.Contains(page, "https://other.example/reply") {
		t.Errorf("verified mention missing from page:\n%s", page)
	}
	if strings.Contains(page, "https://pending.example/post") {
		t.Errorf("pending mention rendered on page:\n%s", page)
	}
}

func TestWebmentionStorageFailureIsRetryable(t *testing.T) {
	h, store, dir := newTestServer(t, true)

	// A plain file where the slug's mention directory must go makes the
	// synchronous pending write fail.
	blocker := filepath.Join(dir, "mentions", "incoming", "hello-world")
	if err := os.WriteFile(blocker, []byte("in the way"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	rec := postWebmention(t, h,
		"https://other.example/post", "https://blog.example/article/hello-world")
	if diff := cmp.Diff(http.StatusInternalServerError, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s\nbody: %s", diff, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"error": "storage_failure"}, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	// The failed write must not leave a record behind.
	all, err := store.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("mention recorded despite storage failure: %+v", all)
	}
}

func TestDisabledEndpointStillRegistered(t *testing.T) {
	h, _, _ := newTestServer(t, false)

	rec := postWebmention(t, h,
		"https://other.example/post", "https://blog.example/article/hello-world")
	if rec.Code == http.StatusNotFound {
		t.Fatal("endpoint not routed when the feature is disabled")
	}
	if diff := cmp.Diff(http.StatusBadRequest, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestArticlePageWithoutAdvertisedEndpoint(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello-world.md"), []byte("# Hello, World\n\nbody\n"), 0o644); err != nil {
		t.Fatalf("write article: %v", err)
	}
	library := content.NewLibrary(dir, "https://blog.example")
	store, err := mentions.NewStore(dir, false)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	router := NewRouter()
	router.GET("/article/*slug", NewArticleHandler(library, store, "").HandleArticle)

	req := httptest.NewRequest(http.MethodGet, "/article/hello-world", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Header().Get("Link"); got != "" {
		t.Errorf("Link header advertised with the feature off: %q", got)
	}
	if strings.Contains(rec.Body.String(), "webmention") {
		t.Errorf("page advertises an endpoint with the feature off:\n%s", rec.Body.String())
	}
}

func TestArticleNotFound(t *testing.T) {
	h, _, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/article/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}
