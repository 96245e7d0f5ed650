// Package gemini wraps the generative service behind a single
// request/response contract. A Submit call makes exactly one outbound
// request and never retries; see Retrying for the caller-side policy.
package gemini

import (
	"context"

	"kulai-character-server/modules/common/model"
)

// Modality - 기대하는 응답 형태
type Modality int

const (
	ModalityText Modality = iota
	ModalityImage
	// ModalityImageAndText requires an image part and returns any text alongside it.
	ModalityImageAndText
)

func (m Modality) String() string {
	switch m {
	case ModalityImage:
		return "image"
	case ModalityImageAndText:
		return "image+text"
	default:
		return "text"
	}
}

// Part - 텍스트 또는 인라인 이미지 한 조각
type Part struct {
	Text  string
	Image *model.Image
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func ImagePart(img model.Image) Part {
	return Part{Image: &img}
}

// Request - 순서가 있는 part 목록 + 기대 응답 형태
type Request struct {
	Parts    []Part
	Modality Modality
}

// Result - 성공한 응답. 실패는 *Error 로 반환됨
type Result struct {
	Image *model.Image
	Text  string
}

type Submitter interface {
	Submit(ctx context.Context, req Request) (*Result, error)
}

// SubmitFunc adapts a plain function to Submitter.
type SubmitFunc func(ctx context.Context, req Request) (*Result, error)

func (f SubmitFunc) Submit(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
