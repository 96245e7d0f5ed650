// Package stage holds the seven synthesis stages. Each stage builds one
// request, makes exactly one gateway call and wraps any failure with its
// own Name.
package stage

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"kulai-character-server/modules/common/gemini"
	"kulai-character-server/modules/common/model"
)

type Stages struct {
	gw  gemini.Submitter
	log zerolog.Logger
}

func New(gw gemini.Submitter, log zerolog.Logger) *Stages {
	return &Stages{gw: gw, log: log.With().Str("component", "stage").Logger()}
}

// CleanResult - clean-background 결과
// Degraded 는 JSON 파싱에 실패해 sentinel 값이 들어간 경우
type CleanResult struct {
	Image    model.Image
	Pose     model.PoseMetadata
	Degraded bool
}

func (s *Stages) submit(ctx context.Context, name Name, req gemini.Request) (*gemini.Result, error) {
	s.log.Debug().Str("stage", string(name)).Int("parts", len(req.Parts)).Str("modality", req.Modality.String()).Msg("🚀 stage request")
	res, err := s.gw.Submit(ctx, req)
	if err != nil {
		return nil, wrap(name, err)
	}
	return res, nil
}

func (s *Stages) submitImage(ctx context.Context, name Name, req gemini.Request) (model.Image, error) {
	res, err := s.submit(ctx, name, req)
	if err != nil {
		return model.Image{}, err
	}
	if res.Image.IsZero() {
		return model.Image{}, wrap(name, &gemini.Error{Kind: gemini.KindMalformed})
	}
	return *res.Image, nil
}

func (s *Stages) submitText(ctx context.Context, name Name, req gemini.Request) (string, error) {
	res, err := s.submit(ctx, name, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", wrap(name, &gemini.Error{Kind: gemini.KindEmpty})
	}
	return text, nil
}

// DescribeFace - 얼굴 이미지 → 텍스트 묘사
func (s *Stages) DescribeFace(ctx context.Context, primary model.Image, additional ...model.Image) (string, error) {
	if primary.IsZero() {
		return "", wrap(NameDescribeFace, ErrMissingImage)
	}

	parts := []gemini.Part{
		gemini.TextPart(BuildDescribeFacePrompt(len(additional))),
		gemini.TextPart("PRIMARY face:"),
		gemini.ImagePart(primary),
	}
	for i, img := range additional {
		if img.IsZero() {
			continue
		}
		parts = append(parts, gemini.TextPart(additionalLabel(i)), gemini.ImagePart(img))
	}

	return s.submitText(ctx, NameDescribeFace, gemini.Request{Parts: parts, Modality: gemini.ModalityText})
}

func additionalLabel(i int) string {
	return "ADDITIONAL face " + strconv.Itoa(i+1) + ":"
}

// DescribeOutfit - 의상 이미지 → 텍스트 묘사
func (s *Stages) DescribeOutfit(ctx context.Context, outfit model.Image, color model.ColorPolicy) (string, error) {
	if outfit.IsZero() {
		return "", wrap(NameDescribeOutfit, ErrMissingImage)
	}
	req := gemini.Request{
		Parts: []gemini.Part{
			gemini.TextPart(BuildDescribeOutfitPrompt(color)),
			gemini.ImagePart(outfit),
		},
		Modality: gemini.ModalityText,
	}
	return s.submitText(ctx, NameDescribeOutfit, req)
}

// CreateMasterSubject - 중립 포즈 기준 캐릭터 생성
func (s *Stages) CreateMasterSubject(ctx context.Context, in MasterInput) (model.Image, error) {
	in.FaceText = strings.TrimSpace(in.FaceText)
	in.OutfitText = strings.TrimSpace(in.OutfitText)

	var refs []model.Image
	for _, img := range in.FaceImages {
		if !img.IsZero() {
			refs = append(refs, img)
		}
	}
	in.FaceImages = refs

	if len(refs) == 0 && in.FaceText == "" {
		return model.Image{}, wrap(NameCreateMaster, ErrMissingFaceRef)
	}
	if in.OutfitText == "" {
		return model.Image{}, wrap(NameCreateMaster, ErrMissingOutfit)
	}

	parts := []gemini.Part{gemini.TextPart(BuildMasterSubjectPrompt(in))}
	for _, img := range refs {
		parts = append(parts, gemini.ImagePart(img))
	}
	return s.submitImage(ctx, NameCreateMaster, gemini.Request{Parts: parts, Modality: gemini.ModalityImage})
}

// IsolateSubject - 배경 제거 (그림자 생성 없음)
func (s *Stages) IsolateSubject(ctx context.Context, master model.Image) (model.Image, error) {
	if master.IsZero() {
		return model.Image{}, wrap(NameIsolate, ErrMissingImage)
	}
	req := gemini.Request{
		Parts:    []gemini.Part{gemini.TextPart(BuildIsolatePrompt()), gemini.ImagePart(master)},
		Modality: gemini.ModalityImage,
	}
	return s.submitImage(ctx, NameIsolate, req)
}

// CleanBackground - 배경 속 인물 제거 + 포즈 메타데이터
// 이미지와 텍스트 part 모두 필수, JSON 은 파싱 실패 시 degraded 값으로 대체
func (s *Stages) CleanBackground(ctx context.Context, background model.Image) (*CleanResult, error) {
	if background.IsZero() {
		return nil, wrap(NameCleanBG, ErrMissingImage)
	}
	req := gemini.Request{
		Parts:    []gemini.Part{gemini.TextPart(BuildCleanBackgroundPrompt()), gemini.ImagePart(background)},
		Modality: gemini.ModalityImageAndText,
	}
	res, err := s.submit(ctx, NameCleanBG, req)
	if err != nil {
		return nil, err
	}
	if res.Image.IsZero() {
		return nil, wrap(NameCleanBG, &gemini.Error{Kind: gemini.KindMalformed})
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, wrap(NameCleanBG, &gemini.Error{Kind: gemini.KindMalformed, Message: "response did not include the pose JSON text part"})
	}

	pose, ok := ParsePose(res.Text)
	if !ok {
		s.log.Warn().Str("text", truncate(res.Text, 120)).Msg("⚠️ pose metadata is not valid JSON, using degraded values")
	}
	return &CleanResult{Image: *res.Image, Pose: pose, Degraded: !ok}, nil
}

// CompositeScene - 캐릭터를 배경에 합성 (출력 크기는 Width x Height 고정)
// part 순서: prompt, subject, background, (face reference)
func (s *Stages) CompositeScene(ctx context.Context, in CompositeInput) (model.Image, error) {
	if in.Subject.IsZero() || in.Background.IsZero() {
		return model.Image{}, wrap(NameComposite, ErrMissingImage)
	}
	if in.Width <= 0 || in.Height <= 0 {
		return model.Image{}, wrap(NameComposite, ErrBadDimensions)
	}

	parts := []gemini.Part{
		gemini.TextPart(BuildCompositePrompt(in)),
		gemini.ImagePart(in.Subject),
		gemini.ImagePart(in.Background),
	}
	if !in.FaceReference.IsZero() {
		parts = append(parts, gemini.ImagePart(*in.FaceReference))
	}
	return s.submitImage(ctx, NameComposite, gemini.Request{Parts: parts, Modality: gemini.ModalityImage})
}

// GenerateVariant - 기존 결과 이미지의 포즈만 변경
func (s *Stages) GenerateVariant(ctx context.Context, base model.Image, pose string) (model.Image, error) {
	pose = strings.TrimSpace(pose)
	if pose == "" {
		return model.Image{}, wrap(NameVariant, ErrEmptyPose)
	}
	if base.IsZero() {
		return model.Image{}, wrap(NameVariant, ErrMissingImage)
	}
	req := gemini.Request{
		Parts:    []gemini.Part{gemini.TextPart(BuildVariantPrompt(pose)), gemini.ImagePart(base)},
		Modality: gemini.ModalityImage,
	}
	return s.submitImage(ctx, NameVariant, req)
}

// IsInputError - 요청 전에 거부된 입력 오류인지
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyPose) || errors.Is(err, ErrMissingImage) ||
		errors.Is(err, ErrBadDimensions) || errors.Is(err, ErrMissingOutfit) ||
		errors.Is(err, ErrMissingFaceRef)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
