package config

import (
	"fmt"

	"github.com/spf13/viper"

	"kulai-character-server/modules/common/model"
)

// SessionDefaults - 새 세션이 시작할 때의 설정값
type SessionDefaults struct {
	Profile model.CharacterProfile `mapstructure:"profile"`
	Art     model.ArtDirection     `mapstructure:"art"`
	Color   model.ColorPolicy      `mapstructure:"color"`
}

// LoadSessionDefaults - YAML 파일(선택)에서 세션 기본값 로드
// path 가 비어있으면 내장 기본값만 사용
func LoadSessionDefaults(path string) (*SessionDefaults, error) {
	v := viper.New()
	setBuiltinDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read session defaults %s: %w", path, err)
		}
	}

	out := &SessionDefaults{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("failed to decode session defaults: %w", err)
	}

	if !out.Art.Style.Valid() {
		return nil, fmt.Errorf("unknown art style %q", out.Art.Style)
	}
	if !out.Art.Quality.Valid() {
		return nil, fmt.Errorf("unknown output quality %q", out.Art.Quality)
	}
	out.Art.IDStrictness = ClampStrictness(out.Art.IDStrictness)
	return out, nil
}

func setBuiltinDefaults(v *viper.Viper) {
	v.SetDefault("profile.gender", "Male")
	v.SetDefault("profile.age", 2)
	v.SetDefault("profile.height", "90cm")
	v.SetDefault("profile.weight", "12kg")
	v.SetDefault("profile.build", "balanced build for the age")

	v.SetDefault("art.pose", "standing confidently, interacting naturally with the scene")
	v.SetDefault("art.style", string(model.StylePhotographic))
	v.SetDefault("art.quality", string(model.QualityDefault))
	v.SetDefault("art.additional_prompt", "")
	v.SetDefault("art.id_strictness", 90)
	v.SetDefault("art.expression", "natural expression that fits the scene")
	v.SetDefault("art.auto_clean_backgrounds", true)

	v.SetDefault("color.keep_original", false)
	v.SetDefault("color.target_hex", "#ffffff")
}

// ClampStrictness - [0,100] 범위로 제한
func ClampStrictness(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
