package model

import (
	"errors"
	"strings"
)

// SourceKind - 얼굴/의상 입력이 텍스트인지 이미지인지
type SourceKind int

const (
	SourceText SourceKind = iota
	SourceImage
)

func (k SourceKind) String() string {
	if k == SourceImage {
		return "image"
	}
	return "text"
}

var (
	ErrMissingFace   = errors.New("face reference or face description is required")
	ErrMissingOutfit = errors.New("outfit image or outfit description is required")
)

// FaceSource - TextSource | ImageSource
// Text 소스라도 References 가 있으면 master/composite 단계에서 참조 이미지로 사용됨
type FaceSource struct {
	Kind       SourceKind
	Text       string
	Primary    *Image
	Additional []Image
}

// FaceFromText - 사용자가 직접 입력한 얼굴 묘사. 참조 이미지는 선택.
func FaceFromText(text string, primary *Image, additional ...Image) FaceSource {
	return FaceSource{Kind: SourceText, Text: strings.TrimSpace(text), Primary: primary, Additional: additional}
}

// FaceFromImage - 분석이 필요한 얼굴 이미지
func FaceFromImage(primary Image, additional ...Image) FaceSource {
	return FaceSource{Kind: SourceImage, Primary: &primary, Additional: additional}
}

func (f FaceSource) NeedsAnalysis() bool { return f.Kind == SourceImage }

// References - 참조용 얼굴 이미지 (primary 먼저)
func (f FaceSource) References() []Image {
	if f.Primary.IsZero() {
		return nil
	}
	out := make([]Image, 0, 1+len(f.Additional))
	out = append(out, *f.Primary)
	out = append(out, f.Additional...)
	return out
}

func (f FaceSource) Validate() error {
	switch f.Kind {
	case SourceText:
		if f.Text == "" {
			return ErrMissingFace
		}
	case SourceImage:
		if f.Primary.IsZero() {
			return ErrMissingFace
		}
	}
	return nil
}

// OutfitSource - TextSource | ImageSource + 색상 정책
type OutfitSource struct {
	Kind  SourceKind
	Text  string
	Image *Image
	Color ColorPolicy
}

func OutfitFromText(text string) OutfitSource {
	return OutfitSource{Kind: SourceText, Text: strings.TrimSpace(text)}
}

func OutfitFromImage(img Image, color ColorPolicy) OutfitSource {
	return OutfitSource{Kind: SourceImage, Image: &img, Color: color}
}

func (o OutfitSource) NeedsAnalysis() bool { return o.Kind == SourceImage }

func (o OutfitSource) Validate() error {
	switch o.Kind {
	case SourceText:
		if o.Text == "" {
			return ErrMissingOutfit
		}
	case SourceImage:
		if o.Image.IsZero() {
			return ErrMissingOutfit
		}
	}
	return nil
}

// GenerationRequest - 한 번의 Generate 실행 동안 변하지 않는 입력 묶음
type GenerationRequest struct {
	Face        FaceSource
	Outfit      OutfitSource
	Profile     CharacterProfile
	Art         ArtDirection
	Backgrounds []VisualAsset
}
