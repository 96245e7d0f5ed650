package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kulai-character-server/modules/common/logger"
)

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("s1", "gen-42", ".webp"); got != "generated-images/session-s1/gen-42.webp" {
		t.Fatalf("ObjectKey = %q", got)
	}
}

func TestSupabaseExporterUploads(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewSupabaseExporter(srv.URL+"/", "secret", "attachments", logger.Nop())
	loc, err := e.Export(context.Background(), "generated-images/session-s1/a.webp", []byte("webp"), "image/webp")
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if gotPath != "/storage/v1/object/attachments/generated-images/session-s1/a.webp" {
		t.Fatalf("upload path = %q", gotPath)
	}
	if gotAuth != "Bearer secret" || gotType != "image/webp" || gotBody != "webp" {
		t.Fatalf("unexpected request: auth=%q type=%q body=%q", gotAuth, gotType, gotBody)
	}
	if loc.Backend != "supabase" || loc.Size != 4 {
		t.Fatalf("unexpected location: %+v", loc)
	}
}

func TestSupabaseExporterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewSupabaseExporter(srv.URL, "k", "missing", logger.Nop())
	_, err := e.Export(context.Background(), "x.webp", []byte("a"), "image/webp")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}
