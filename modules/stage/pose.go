package stage

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"kulai-character-server/modules/common/model"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

var errPoseFields = errors.New("pose JSON is missing required string fields")

// ParsePose - clean-background 텍스트에서 PoseMetadata 추출
// ```json 블록이 있으면 그 안을, 없으면 전체 텍스트를 파싱.
// 실패하면 원문을 location 으로 하는 degraded 값과 false 반환
func ParsePose(text string) (model.PoseMetadata, bool) {
	pose, err := decodePose(text)
	if err != nil {
		return model.DegradedPose(text), false
	}
	return pose, true
}

func decodePose(text string) (model.PoseMetadata, error) {
	candidate := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	}

	var raw struct {
		Location *string `json:"location"`
		Scale    *string `json:"scale"`
		Angle    *string `json:"angle"`
		Lighting *string `json:"lighting"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &raw); err != nil {
		return model.PoseMetadata{}, err
	}
	if raw.Location == nil || raw.Scale == nil || raw.Angle == nil || raw.Lighting == nil {
		return model.PoseMetadata{}, errPoseFields
	}
	return model.PoseMetadata{
		Location: *raw.Location,
		Scale:    *raw.Scale,
		Angle:    *raw.Angle,
		Lighting: *raw.Lighting,
	}, nil
}
