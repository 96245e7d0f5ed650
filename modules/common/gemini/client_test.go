package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"kulai-character-server/modules/common/model"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GeminiGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAPIKeyClient(context.Background(), "test-key", &genai.HTTPOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAPIKeyClient returned error: %v", err)
	}
	return NewGateway(client, Options{Logger: zerolog.Nop()})
}

func TestGeminiGatewaySubmitImage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"`+
			base64.StdEncoding.EncodeToString([]byte("pixels"))+`"}}]}}]}`)
	})

	res, err := gw.Submit(context.Background(), Request{
		Parts: []Part{
			TextPart("isolate the subject"),
			ImagePart(model.Image{Data: []byte("input"), MIMEType: "image/jpeg"}),
		},
		Modality: ModalityImage,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if string(res.Image.Data) != "pixels" || res.Image.MIMEType != "image/png" {
		t.Fatalf("image mismatch: %q %s", res.Image.Data, res.Image.MIMEType)
	}
	if !strings.Contains(gotPath, "gemini-2.5-flash-image") {
		t.Fatalf("image modality should use the image model, path %q", gotPath)
	}
	if gotBody == nil {
		t.Fatal("request body was not JSON")
	}
}

func TestGeminiGatewaySubmitTextUsesTextModel(t *testing.T) {
	var gotPath string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"oval face"}]}}]}`)
	})

	res, err := gw.Submit(context.Background(), Request{Parts: []Part{TextPart("describe")}, Modality: ModalityText})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if res.Text != "oval face" {
		t.Fatalf("Text mismatch: got %q", res.Text)
	}
	if strings.Contains(gotPath, "flash-image") || !strings.Contains(gotPath, "gemini-2.5-flash") {
		t.Fatalf("text modality should use the text model, path %q", gotPath)
	}
}

func TestGeminiGatewaySubmitRateLimited(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := gw.Submit(context.Background(), Request{Parts: []Part{TextPart("describe")}})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestGeminiGatewayRejectsEmptyRequest(t *testing.T) {
	gw := NewGateway(nil, Options{})
	if _, err := gw.Submit(context.Background(), Request{}); KindOf(err) != KindUnknown || err == nil {
		t.Fatalf("expected unknown error for empty request, got %v", err)
	}
}
