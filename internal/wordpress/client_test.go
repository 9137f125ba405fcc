package wordpress

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "editor", "abcd efgh", discardLogger(), opts...)
}

func TestClient_BasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.Write([]byte(`{"name":"Site"}`))
	})

	if err := c.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !ok || user != "editor" || pass != "abcd efgh" {
		t.Errorf("basic auth = (%q, %q, %v)", user, pass, ok)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   apperr.Kind
	}{
		{http.StatusBadRequest, apperr.KindValidation},
		{http.StatusNotFound, apperr.KindNotFound},
		{http.StatusConflict, apperr.KindConflict},
		{http.StatusTooManyRequests, apperr.KindRateLimit},
		{http.StatusForbidden, apperr.KindExternalService},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code":"rest_error","message":"nope"}`))
			})
			_, err := c.UpdatePage(t.Context(), 5, PageInput{Title: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperr.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (err %v)", got, tt.kind, err)
			}
		})
	}
}

func TestGetPage_RequestsEditContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/wp/v2/pages/42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("context") != "edit" {
			t.Errorf("context = %q, want edit", r.URL.Query().Get("context"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      42,
			"title":   map[string]string{"raw": "About", "rendered": "About"},
			"content": map[string]string{"raw": "<!-- wp:paragraph --><p>Hi</p><!-- /wp:paragraph -->"},
			"status":  "publish",
		})
	})

	p, err := c.GetPage(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if p.Title.Text() != "About" || p.Status != "publish" {
		t.Errorf("page = %+v", p)
	}
	if p.Content.Raw == "" {
		t.Error("raw content missing")
	}
}

func TestCreatePage_DefaultsToDraft(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7,"status":"draft","title":{"raw":"New"}}`))
	})

	p, err := c.CreatePage(t.Context(), PageInput{Title: "New"})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if body["status"] != "draft" {
		t.Errorf("sent status = %v, want draft", body["status"])
	}
	if p.ID != 7 {
		t.Errorf("ID = %d, want 7", p.ID)
	}
}

func TestGetBlockType_Cached(t *testing.T) {
	store, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/wp-json/wp/v2/block-types/core/heading" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"name":"core/heading","title":"Heading","attributes":{"level":{"type":"integer"}}}`))
	}, WithCache(store, time.Minute))

	for range 3 {
		bt, err := c.GetBlockType(t.Context(), "core/heading")
		if err != nil {
			t.Fatalf("GetBlockType: %v", err)
		}
		if bt.Name != "core/heading" {
			t.Errorf("Name = %q", bt.Name)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestGetBlockType_RejectsBareName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	if _, err := c.GetBlockType(t.Context(), "heading"); err == nil {
		t.Error("expected error for name without namespace")
	}
}

func TestGlobalStyles_UpdateInvalidatesCache(t *testing.T) {
	store, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var gets atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/wp-json/wp/v2/themes":
			w.Write([]byte(`[{"stylesheet":"twentyfive","_links":{"wp:user-global-styles":[{"href":"http://x/wp-json/wp/v2/global-styles/12"}]}}]`))
		case r.URL.Path == "/wp-json/wp/v2/global-styles/12" && r.Method == http.MethodGet:
			gets.Add(1)
			w.Write([]byte(`{"id":12,"styles":{"color":{"text":"#111"}}}`))
		case r.URL.Path == "/wp-json/wp/v2/global-styles/12" && r.Method == http.MethodPost:
			w.Write([]byte(`{"id":12,"styles":{"color":{"text":"#222"}}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}, WithCache(store, time.Minute))

	ctx := t.Context()
	if _, err := c.GetGlobalStyles(ctx); err != nil {
		t.Fatalf("GetGlobalStyles: %v", err)
	}
	if _, err := c.GetGlobalStyles(ctx); err != nil {
		t.Fatalf("GetGlobalStyles: %v", err)
	}
	if n := gets.Load(); n != 1 {
		t.Fatalf("GETs before update = %d, want 1", n)
	}

	gs, err := c.UpdateGlobalStyles(ctx, map[string]any{"color": map[string]any{"text": "#222"}}, nil)
	if err != nil {
		t.Fatalf("UpdateGlobalStyles: %v", err)
	}
	if gs.ID != 12 {
		t.Errorf("ID = %d", gs.ID)
	}
	if _, err := c.GetGlobalStyles(ctx); err != nil {
		t.Fatalf("GetGlobalStyles: %v", err)
	}
	if n := gets.Load(); n != 2 {
		t.Errorf("GETs after update = %d, want 2", n)
	}
}

func TestBuildTree(t *testing.T) {
	pages := []Page{
		{ID: 3, Parent: 1},
		{ID: 1},
		{ID: 2},
		{ID: 4, Parent: 3},
		{ID: 5, Parent: 99},
	}
	roots := buildTree(pages)
	if len(roots) != 3 {
		t.Fatalf("roots = %d, want 3 (1, 2 and orphan 5)", len(roots))
	}
	var one *PageNode
	for _, r := range roots {
		if r.ID == 1 {
			one = r
		}
	}
	if one == nil || len(one.Children) != 1 || one.Children[0].ID != 3 {
		t.Fatalf("page 1 children wrong: %+v", one)
	}
	if len(one.Children[0].Children) != 1 || one.Children[0].Children[0].ID != 4 {
		t.Errorf("page 3 children wrong")
	}
}

func TestIsReady(t *testing.T) {
	c := NewClient("http://example.invalid", "u", "p", discardLogger())
	if !c.IsReady() {
		t.Error("IsReady without watcher should be true")
	}
	c.SetWatcher(fixedReady(false))
	if c.IsReady() {
		t.Error("IsReady should follow the watcher")
	}
}

type fixedReady bool

func (f fixedReady) IsReady() bool { return bool(f) }
