package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// NewClient - Vertex AI 백엔드 genai 클라이언트 생성 (환경 변수 자동 처리)
// 1. VERTEXAI_CREDENTIALS_JSON  2. VERTEXAI_CREDENTIALS_PATH  3. ADC
func NewClient(ctx context.Context, project, location string, log zerolog.Logger) (*genai.Client, error) {
	opts := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}

	if credsJSON := os.Getenv("VERTEXAI_CREDENTIALS_JSON"); credsJSON != "" {
		log.Info().Msg("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		opts.CredentialsJSON = []byte(credsJSON)
	} else if credsPath := os.Getenv("VERTEXAI_CREDENTIALS_PATH"); credsPath != "" {
		log.Info().Str("path", credsPath).Msg("✅ [VertexAI] Using credentials file")
		credsData, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		// JSON 유효성 검사
		var parsed map[string]interface{}
		if err := json.Unmarshal(credsData, &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON credentials: %w", err)
		}
		opts.CredentialsJSON = credsData
	} else {
		log.Warn().Msg("⚠️ [VertexAI] No explicit credentials found, using Application Default Credentials")
	}

	creds, err := credentials.DetectDefault(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect Vertex AI credentials: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     project,
		Location:    location,
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	log.Info().Str("project", project).Str("location", location).Msg("✅ [VertexAI] Client initialized")
	return client, nil
}
