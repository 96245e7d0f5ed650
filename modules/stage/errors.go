package stage

import (
	"errors"
	"fmt"
)

// Name - 단계 식별자 (에러 메시지 prefix 로 사용)
type Name string

const (
	NameDescribeFace   Name = "describe-face"
	NameDescribeOutfit Name = "describe-outfit"
	NameCreateMaster   Name = "create-master-subject"
	NameIsolate        Name = "isolate-subject"
	NameCleanBG        Name = "clean-background"
	NameComposite      Name = "composite-scene"
	NameVariant        Name = "generate-variant"
)

var (
	ErrEmptyPose      = errors.New("variant pose must not be empty")
	ErrMissingImage   = errors.New("required image input is missing")
	ErrBadDimensions  = errors.New("target width and height must be positive")
	ErrMissingOutfit  = errors.New("outfit description is empty")
	ErrMissingFaceRef = errors.New("face description or reference image is required")
)

// Error - 어느 단계에서 실패했는지 표시하는 래퍼
type Error struct {
	Stage Name
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(name Name, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: name, Err: err}
}

// StageOf - err 를 만든 단계 (없으면 "")
func StageOf(err error) Name {
	var se *Error
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
