// Package artifact caches intermediate pipeline outputs per session: the
// cleaned replacement for each background (with its extracted pose) and the
// single isolated-subject image shared by every composite.
package artifact

import (
	"context"

	"kulai-character-server/modules/common/model"
)

// CleanedBackground - clean-background 결과. Cleaned 는 항상 true 로 저장됨
type CleanedBackground struct {
	Image   model.Image
	Pose    model.PoseMetadata
	Cleaned bool
}

// Apply - 원본 자산에 정리된 이미지/포즈를 덮어쓴 사본
func (c *CleanedBackground) Apply(asset model.VisualAsset) model.VisualAsset {
	if c == nil {
		return asset
	}
	pose := c.Pose
	asset.Image = c.Image
	asset.Extracted = &pose
	asset.Cleaned = c.Cleaned
	return asset
}

// Store - 세션 단위 artifact 캐시
// 조회 메서드는 항목이 없으면 (nil, nil) 을 반환
type Store interface {
	Pose(ctx context.Context, assetID string) (*model.PoseMetadata, error)
	Cleaned(ctx context.Context, assetID string) (*CleanedBackground, error)
	SetCleaned(ctx context.Context, assetID string, img model.Image, pose model.PoseMetadata) error
	Forget(ctx context.Context, assetID string) error

	IsolatedSubject(ctx context.Context) (*model.Image, error)
	SetIsolatedSubject(ctx context.Context, img model.Image) error

	// Close releases everything the store holds for the session.
	Close(ctx context.Context) error
}
