package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"kulai-character-server/modules/common/model"
)

const defaultImageMIME = "image/png"

// classifyResponse - 응답을 modality 기준으로 Result 또는 *Error 로 변환
func classifyResponse(resp *genai.GenerateContentResponse, modality Modality) (*Result, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &Error{Kind: KindBlocked, Reason: string(resp.PromptFeedback.BlockReason)}
		}
		return nil, &Error{Kind: KindEmpty}
	}

	img, text := splitParts(resp.Candidates[0])

	switch modality {
	case ModalityText:
		if strings.TrimSpace(text) == "" {
			return nil, &Error{Kind: KindEmpty}
		}
		return &Result{Text: text}, nil

	case ModalityImage:
		if img != nil {
			return &Result{Image: img, Text: text}, nil
		}
		if strings.TrimSpace(text) != "" {
			return nil, &Error{Kind: KindTextInsteadOfImage, Text: text}
		}
		return nil, &Error{Kind: KindMalformed}

	default:
		if img == nil {
			return nil, &Error{Kind: KindMalformed, Message: "response did not include the required image part"}
		}
		return &Result{Image: img, Text: text}, nil
	}
}

// splitParts - 첫 번째 이미지 part 와 텍스트 part 들을 분리
func splitParts(c *genai.Candidate) (*model.Image, string) {
	if c.Content == nil {
		return nil, ""
	}

	var img *model.Image
	var texts []string
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			if img == nil {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = defaultImageMIME
				}
				img = &model.Image{Data: part.InlineData.Data, MIMEType: mime}
			}
			continue
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return img, strings.Join(texts, "")
}

// classifyError - SDK/전송 에러를 *Error 로 변환
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnknown, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindProvider, Code: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &Error{Kind: KindProvider, Code: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}

	if isRateLimitMessage(err.Error()) {
		return &Error{Kind: KindProvider, Code: 429, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
