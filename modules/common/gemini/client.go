package gemini

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Options - GeminiGateway 설정
type Options struct {
	TextModel   string
	ImageModel  string
	Temperature *float32
	Logger      zerolog.Logger
	// KeyLabel identifies the credential in logs without exposing it.
	KeyLabel string
}

// GeminiGateway - genai.Client 기반 Submitter
type GeminiGateway struct {
	client *genai.Client
	opts   Options
}

// NewGateway - 이미 만들어진 genai.Client 로 게이트웨이 생성
func NewGateway(client *genai.Client, opts Options) *GeminiGateway {
	if opts.TextModel == "" {
		opts.TextModel = "gemini-2.5-flash"
	}
	if opts.ImageModel == "" {
		opts.ImageModel = "gemini-2.5-flash-image"
	}
	return &GeminiGateway{client: client, opts: opts}
}

// NewAPIKeyClient - Gemini API 백엔드용 클라이언트 생성
func NewAPIKeyClient(ctx context.Context, apiKey string, httpOptions *genai.HTTPOptions) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpOptions != nil {
		cc.HTTPOptions = *httpOptions
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// Submit - 요청 1건 = 네트워크 호출 1건
func (g *GeminiGateway) Submit(ctx context.Context, req Request) (*Result, error) {
	if len(req.Parts) == 0 {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("request has no parts")}
	}

	parts := make([]*genai.Part, 0, len(req.Parts))
	images := 0
	for _, p := range req.Parts {
		if p.Image != nil {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: p.Image.MIMEType,
					Data:     p.Image.Data,
				},
			})
			images++
			continue
		}
		parts = append(parts, genai.NewPartFromText(p.Text))
	}

	modelName := g.opts.TextModel
	cfg := &genai.GenerateContentConfig{Temperature: g.opts.Temperature}
	if req.Modality != ModalityText {
		modelName = g.opts.ImageModel
		cfg.ResponseModalities = []string{string(genai.ModalityImage), string(genai.ModalityText)}
	}

	log := g.opts.Logger.With().
		Str("model", modelName).
		Str("modality", req.Modality.String()).
		Str("key", g.opts.KeyLabel).
		Logger()
	log.Debug().Int("parts", len(parts)).Int("images", images).Msg("📤 Sending request to Gemini")

	resp, err := g.client.Models.GenerateContent(ctx, modelName, []*genai.Content{{Parts: parts}}, cfg)
	if err != nil {
		cerr := classifyError(err)
		log.Warn().Err(cerr).Msg("❌ Gemini call failed")
		return nil, cerr
	}

	result, err := classifyResponse(resp, req.Modality)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Gemini response rejected")
		return nil, err
	}
	if result.Image != nil {
		log.Debug().Int("bytes", len(result.Image.Data)).Msg("✅ Received image from Gemini")
	}
	return result, nil
}
