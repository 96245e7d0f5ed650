package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// Location - 업로드된 객체 위치
type Location struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
}

// Exporter - 결과 이미지를 외부 저장소에 업로드
type Exporter interface {
	Export(ctx context.Context, key string, data []byte, contentType string) (*Location, error)
}

// ObjectKey - generated-images/session-<id>/<resultID>.<ext>
func ObjectKey(sessionID, resultID, ext string) string {
	return path.Join("generated-images", "session-"+sessionID, resultID+"."+strings.TrimPrefix(ext, "."))
}

// SupabaseExporter - Supabase Storage REST 업로드
type SupabaseExporter struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewSupabaseExporter(baseURL, serviceKey, bucket string, log zerolog.Logger) *SupabaseExporter {
	return &SupabaseExporter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{},
		log:        log.With().Str("component", "storage").Str("backend", "supabase").Logger(),
	}
}

// Export - Supabase Storage에 업로드
func (e *SupabaseExporter) Export(ctx context.Context, key string, data []byte, contentType string) (*Location, error) {
	e.log.Info().Str("path", key).Int("bytes", len(data)).Msg("📤 Uploading image to storage")

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", e.baseURL, e.bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	e.log.Info().Str("path", key).Msg("✅ Image uploaded successfully")
	return &Location{Backend: "supabase", Path: key, Size: int64(len(data))}, nil
}
