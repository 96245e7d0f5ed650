package artifact

import (
	"context"
	"sync"

	"kulai-character-server/modules/common/model"
)

// MemoryStore - 프로세스 메모리 기반 Store
type MemoryStore struct {
	mu          sync.RWMutex
	backgrounds map[string]CleanedBackground
	subject     *model.Image
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{backgrounds: make(map[string]CleanedBackground)}
}

func (s *MemoryStore) Pose(ctx context.Context, assetID string) (*model.PoseMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bg, ok := s.backgrounds[assetID]
	if !ok {
		return nil, nil
	}
	pose := bg.Pose
	return &pose, nil
}

func (s *MemoryStore) Cleaned(ctx context.Context, assetID string) (*CleanedBackground, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bg, ok := s.backgrounds[assetID]
	if !ok {
		return nil, nil
	}
	return &bg, nil
}

func (s *MemoryStore) SetCleaned(ctx context.Context, assetID string, img model.Image, pose model.PoseMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgrounds[assetID] = CleanedBackground{Image: img, Pose: pose, Cleaned: true}
	return nil
}

func (s *MemoryStore) Forget(ctx context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backgrounds, assetID)
	return nil
}

func (s *MemoryStore) IsolatedSubject(ctx context.Context) (*model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.subject == nil {
		return nil, nil
	}
	img := *s.subject
	return &img, nil
}

func (s *MemoryStore) SetIsolatedSubject(ctx context.Context, img model.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = &img
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgrounds = make(map[string]CleanedBackground)
	s.subject = nil
	return nil
}
