package model

import (
	"strings"
	"time"
)

// Image - 디코딩된 이미지 바이너리 + MIME 타입
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
}

// IsZero - 비어있는 이미지인지 확인
func (i *Image) IsZero() bool {
	return i == nil || len(i.Data) == 0
}

// PoseMetadata - 배경 속 인물의 위치/크기/각도/조명 설명
type PoseMetadata struct {
	Location string `json:"location"`
	Scale    string `json:"scale"`
	Angle    string `json:"angle"`
	Lighting string `json:"lighting"`
}

// PoseMetadata 파싱 실패 시 사용하는 값
const (
	UnknownScale    = "unknown scale"
	UnknownAngle    = "unknown angle"
	UnknownLighting = "unknown lighting"
)

// DegradedPose - JSON 파싱 실패 시 원문을 location 으로 쓰는 PoseMetadata
func DegradedPose(raw string) PoseMetadata {
	return PoseMetadata{
		Location: raw,
		Scale:    UnknownScale,
		Angle:    UnknownAngle,
		Lighting: UnknownLighting,
	}
}

// VisualAsset - 업로드된 이미지 자산
// Cleaned 는 clean-background 결과로 교체된 자산임을 나타냄
type VisualAsset struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Image     Image         `json:"image"`
	Pose      string        `json:"pose,omitempty"`
	Extracted *PoseMetadata `json:"extractedPose,omitempty"`
	Cleaned   bool          `json:"cleaned"`
	CreatedAt time.Time     `json:"createdAt"`
}

// PoseOverride - 배경별 포즈가 있으면 그것을, 없으면 fallback 을 반환
func (a *VisualAsset) PoseOverride(fallback string) string {
	if a != nil {
		if p := strings.TrimSpace(a.Pose); p != "" {
			return p
		}
	}
	return fallback
}

// CharacterProfile - 체형 설정
type CharacterProfile struct {
	Gender string `json:"gender" mapstructure:"gender"`
	Age    int    `json:"age" mapstructure:"age"`
	Height string `json:"height" mapstructure:"height"`
	Weight string `json:"weight" mapstructure:"weight"`
	Build  string `json:"build" mapstructure:"build"`
}

type ArtStyle string

const (
	StylePhotographic ArtStyle = "Photographic"
	StyleAnime        ArtStyle = "Anime"
	StyleOilPainting  ArtStyle = "Oil painting"
	StyleWatercolor   ArtStyle = "Watercolor"
	StylePixelArt     ArtStyle = "Pixel art"
	StyleCyberpunk    ArtStyle = "Cyberpunk"
)

var ArtStyles = []ArtStyle{
	StylePhotographic, StyleAnime, StyleOilPainting,
	StyleWatercolor, StylePixelArt, StyleCyberpunk,
}

func (s ArtStyle) Valid() bool {
	for _, v := range ArtStyles {
		if v == s {
			return true
		}
	}
	return false
}

type OutputQuality string

const (
	QualityDefault OutputQuality = "Default"
	Quality4K      OutputQuality = "4K"
	Quality8K      OutputQuality = "8K"
)

func (q OutputQuality) Valid() bool {
	return q == QualityDefault || q == Quality4K || q == Quality8K
}

// ArtDirection - 스타일/포즈/정체성 보존 강도 설정
type ArtDirection struct {
	Pose                 string        `json:"pose" mapstructure:"pose"`
	Style                ArtStyle      `json:"style" mapstructure:"style"`
	Quality              OutputQuality `json:"quality" mapstructure:"quality"`
	AdditionalPrompt     string        `json:"additionalPrompt" mapstructure:"additional_prompt"`
	IDStrictness         int           `json:"idStrictness" mapstructure:"id_strictness"`
	Expression           string        `json:"expression" mapstructure:"expression"`
	AutoCleanBackgrounds bool          `json:"autoCleanBackgrounds" mapstructure:"auto_clean_backgrounds"`
}

// WithPose - 포즈만 바꾼 복사본
func (a ArtDirection) WithPose(pose string) ArtDirection {
	a.Pose = pose
	return a
}

// ColorPolicy - 의상 색상 유지 or 지정 hex 로 변경
type ColorPolicy struct {
	KeepOriginal bool   `json:"keepOriginal" mapstructure:"keep_original"`
	TargetHex    string `json:"targetHex" mapstructure:"target_hex"`
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

type ResultKind string

const (
	KindMain    ResultKind = "main"
	KindVariant ResultKind = "variant"
	KindQuick   ResultKind = "quick"
)

// ResultItem - 생성 결과 한 장 (실패 시 Image 는 nil)
type ResultItem struct {
	ID                 string       `json:"id"`
	Image              *Image       `json:"-"`
	SourceBackgroundID string       `json:"sourceBackgroundId"`
	Status             ResultStatus `json:"status"`
	ErrorMessage       string       `json:"errorMessage,omitempty"`
	Kind               ResultKind   `json:"kind"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// ProgressState - Current 는 지금까지 "시작된" 단계 수
type ProgressState struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)
