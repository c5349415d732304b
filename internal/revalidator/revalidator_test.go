package revalidator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mdblog/internal/mentions"
	"mdblog/internal/model"
	"mdblog/internal/verifier"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

const (
	testTarget = "https://blog.example/article/hello-world"
	testSource = "https://other.example/post"
)

var (
	linkingBody  = `<html><body><a href="` + testTarget + `">post</a></body></html>`
	unlinkedBody = `<html><body>nothing relevant</body></html>`
)

func newRevalidator(t *testing.T, transport *mockTransport, hardDelete bool) (*Revalidator, *mentions.Store) {
	t.Helper()
	store, err := mentions.NewStore(t.TempDir(), hardDelete)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	v := verifier.New(transport, "test-agent")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, v, log), store
}

func seedMention(t *testing.T, store *mentions.Store, status model.MentionStatus) {
	t.Helper()
	m := model.Mention{
		Source:     testSource,
		Target:     testTarget,
		PostSlug:   "hello-world",
		Status:     status,
		Type:       model.MentionPlain,
		ReceivedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	if status == model.StatusVerified {
		at := m.ReceivedAt.Add(time.Minute)
		m.VerifiedAt = &at
	}
	if status == model.StatusDeleted {
		at := m.ReceivedAt.Add(time.Hour)
		m.DeletedAt = &at
	}
	if err := store.Put(&m); err != nil {
		t.Fatalf("seed mention: %v", err)
	}
}

func singleMention(t *testing.T, store *mentions.Store) *model.Mention {
	t.Helper()
	all, err := store.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one stored mention, got %d", len(all))
	}
	return &all[0]
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name       string
		prior      model.MentionStatus
		transport  *mockTransport
		hardDelete bool
		want       model.MentionStatus
		wantGone   bool
	}{
		{
			name:      "verified stays verified on found",
			prior:     model.StatusVerified,
			transport: &mockTransport{statusCode: 200, body: linkingBody},
			want:      model.StatusVerified,
		},
		{
			name:      "verified soft-deleted on not found",
			prior:     model.StatusVerified,
			transport: &mockTransport{statusCode: 200, body: unlinkedBody},
			want:      model.StatusDeleted,
		},
		{
			name:      "verified soft-deleted on 410",
			prior:     model.StatusVerified,
			transport: &mockTransport{statusCode: 410, body: "gone"},
			want:      model.StatusDeleted,
		},
		{
			name:       "verified removed on not found with hard delete",
			prior:      model.StatusVerified,
			transport:  &mockTransport{statusCode: 200, body: unlinkedBody},
			hardDelete: true,
			wantGone:   true,
		},
		{
			name:      "verified untouched on unreachable",
			prior:     model.StatusVerified,
			transport: &mockTransport{statusCode: 500, body: "boom"},
			want:      model.StatusVerified,
		},
		{
			name:      "verified untouched on network error",
			prior:     model.StatusVerified,
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			want:      model.StatusVerified,
		},
		{
			name:      "soft-deleted restored on found",
			prior:     model.StatusDeleted,
			transport: &mockTransport{statusCode: 200, body: linkingBody},
			want:      model.StatusVerified,
		},
		{
			name:      "soft-deleted stays deleted on not found",
			prior:     model.StatusDeleted,
			transport: &mockTransport{statusCode: 200, body: unlinkedBody},
			want:      model.StatusDeleted,
		},
		{
			name:      "pending verified on found",
			prior:     model.StatusPending,
			transport: &mockTransport{statusCode: 200, body: linkingBody},
			want:      model.StatusVerified,
		},
		{
			name:      "pending removed on not found",
			prior:     model.StatusPending,
			transport: &mockTransport{statusCode: 200, body: unlinkedBody},
			wantGone:  true,
		},
		{
			name:      "pending untouched on unreachable",
			prior:     model.StatusPending,
			transport: &mockTransport{statusCode: 503, body: "later"},
			want:      model.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newRevalidator(t, tt.transport, tt.hardDelete)
			seedMention(t, store, tt.prior)

			r.Pass(context.Background())

			all, err := store.ListAll()
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if tt.wantGone {
				if len(all) != 0 {
					t.Errorf("expected record removed, still stored: %+v", all)
				}
				return
			}
			if len(all) != 1 {
				t.Fatalf("expected one stored mention, got %d", len(all))
			}
			if diff := cmp.Diff(tt.want, all[0].Status); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRestoreClearsDeletedAtAndRefreshesMetadata(t *testing.T) {
	body := `<html><head><title>Fresh Title</title></head><body><a href="` + testTarget + `">post</a></body></html>`
	r, store := newRevalidator(t, &mockTransport{statusCode: 200, body: body}, false)
	seedMention(t, store, model.StatusDeleted)

	r.Pass(context.Background())

	m := singleMention(t, store)
	if diff := cmp.Diff(model.StatusVerified, m.Status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	if m.DeletedAt != nil {
		t.Error("deleted_at not cleared on restore")
	}
	if m.VerifiedAt == nil {
		t.Error("verified_at not set on restore")
	}
	if diff := cmp.Diff("Fresh Title", m.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
}
