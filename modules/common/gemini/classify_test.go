package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func candidate(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func imagePart(data string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: "image/webp", Data: []byte(data)}}
}

func TestClassifyResponseBlocked(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
	}
	_, err := classifyResponse(resp, ModalityImage)

	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindBlocked {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if ge.Reason != "SAFETY" {
		t.Fatalf("Reason mismatch: got %q want %q", ge.Reason, "SAFETY")
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("message should carry the reason: %q", err.Error())
	}
}

func TestClassifyResponseEmpty(t *testing.T) {
	for _, resp := range []*genai.GenerateContentResponse{nil, {}} {
		if _, err := classifyResponse(resp, ModalityImage); KindOf(err) != KindEmpty {
			t.Fatalf("expected empty, got %v", err)
		}
	}
	if _, err := classifyResponse(candidate(), ModalityText); KindOf(err) != KindEmpty {
		t.Fatalf("text modality without text should be empty, got %v", err)
	}
}

func TestClassifyResponseImageWins(t *testing.T) {
	resp := candidate(
		&genai.Part{Text: "here you go"},
		imagePart("first"),
		imagePart("second"),
	)
	res, err := classifyResponse(resp, ModalityImage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Image.Data) != "first" || res.Image.MIMEType != "image/webp" {
		t.Fatalf("expected first image part, got %q (%s)", res.Image.Data, res.Image.MIMEType)
	}
}

func TestClassifyResponseTextInsteadOfImage(t *testing.T) {
	_, err := classifyResponse(candidate(&genai.Part{Text: "I cannot draw that"}), ModalityImage)

	var ge *Error
	if !errors.As(err, &ge) || ge.Kind != KindTextInsteadOfImage {
		t.Fatalf("expected text-instead-of-image, got %v", err)
	}
	if ge.Text != "I cannot draw that" {
		t.Fatalf("Text mismatch: got %q", ge.Text)
	}
}

func TestClassifyResponseMalformed(t *testing.T) {
	if _, err := classifyResponse(candidate(), ModalityImage); KindOf(err) != KindMalformed {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := classifyResponse(candidate(&genai.Part{Text: "{}"}), ModalityImageAndText); KindOf(err) != KindMalformed {
		t.Fatalf("image+text without image should be malformed, got %v", err)
	}
}

func TestClassifyResponseImageAndText(t *testing.T) {
	resp := candidate(&genai.Part{Text: `{"location":"center"}`}, imagePart("png"))
	res, err := classifyResponse(resp, ModalityImageAndText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != `{"location":"center"}` || res.Image == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClassifyResponseSkipsThoughts(t *testing.T) {
	resp := candidate(&genai.Part{Text: "thinking...", Thought: true}, &genai.Part{Text: "a round face"})
	res, err := classifyResponse(resp, ModalityText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "a round face" {
		t.Fatalf("Text mismatch: got %q", res.Text)
	}
}

func TestClassifyErrorProvider(t *testing.T) {
	err := classifyError(genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key."})
	if !IsInvalidCredential(err) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	if IsRateLimited(err) {
		t.Fatal("invalid credential must not be rate limited")
	}

	err = classifyError(genai.APIError{Code: 429, Message: "Resource has been exhausted"})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	err = classifyError(genai.APIError{Code: 500, Message: "internal"})
	if got := err.Error(); got != "API error: internal (code 500)" {
		t.Fatalf("message mismatch: %q", got)
	}
}

func TestClassifyErrorFallbacks(t *testing.T) {
	if err := classifyError(fmt.Errorf("googleapi: quota exceeded")); !IsRateLimited(err) {
		t.Fatalf("quota message should be rate limited, got %v", err)
	}
	err := classifyError(context.DeadlineExceeded)
	if KindOf(err) != KindUnknown || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline should stay unknown and unwrap, got %v", err)
	}
	already := &Error{Kind: KindBlocked, Reason: "OTHER"}
	if classifyError(already) != error(already) {
		t.Fatal("classified errors should pass through unchanged")
	}
}
