package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kulai-character-server/modules/common/model"
)

// RedisStore - Redis hash 기반 Store (세션 키 prefix + TTL)
//
//	kulai:session:<id>:subject      {data, mime}
//	kulai:session:<id>:bg:<assetID> {data, mime, pose, cleaned}
type RedisStore struct {
	rdb       redis.Cmdable
	sessionID string
	ttl       time.Duration
}

func NewRedisStore(rdb redis.Cmdable, sessionID string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, sessionID: sessionID, ttl: ttl}
}

func (s *RedisStore) prefix() string {
	return "kulai:session:" + s.sessionID
}

func (s *RedisStore) subjectKey() string {
	return s.prefix() + ":subject"
}

func (s *RedisStore) backgroundKey(assetID string) string {
	return s.prefix() + ":bg:" + assetID
}

func (s *RedisStore) Pose(ctx context.Context, assetID string) (*model.PoseMetadata, error) {
	raw, err := s.rdb.HGet(ctx, s.backgroundKey(assetID), "pose").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pose for %s: %w", assetID, err)
	}
	var pose model.PoseMetadata
	if err := json.Unmarshal([]byte(raw), &pose); err != nil {
		return nil, fmt.Errorf("failed to decode pose for %s: %w", assetID, err)
	}
	return &pose, nil
}

func (s *RedisStore) Cleaned(ctx context.Context, assetID string) (*CleanedBackground, error) {
	fields, err := s.rdb.HGetAll(ctx, s.backgroundKey(assetID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cleaned background %s: %w", assetID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	var pose model.PoseMetadata
	if err := json.Unmarshal([]byte(fields["pose"]), &pose); err != nil {
		return nil, fmt.Errorf("failed to decode pose for %s: %w", assetID, err)
	}
	return &CleanedBackground{
		Image:   model.Image{Data: []byte(fields["data"]), MIMEType: fields["mime"]},
		Pose:    pose,
		Cleaned: fields["cleaned"] == "1",
	}, nil
}

func (s *RedisStore) SetCleaned(ctx context.Context, assetID string, img model.Image, pose model.PoseMetadata) error {
	poseJSON, err := json.Marshal(pose)
	if err != nil {
		return fmt.Errorf("failed to encode pose: %w", err)
	}
	key := s.backgroundKey(assetID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"data":    img.Data,
			"mime":    img.MIMEType,
			"pose":    string(poseJSON),
			"cleaned": "1",
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store cleaned background %s: %w", assetID, err)
	}
	return nil
}

func (s *RedisStore) Forget(ctx context.Context, assetID string) error {
	if err := s.rdb.Del(ctx, s.backgroundKey(assetID)).Err(); err != nil {
		return fmt.Errorf("failed to forget %s: %w", assetID, err)
	}
	return nil
}

func (s *RedisStore) IsolatedSubject(ctx context.Context) (*model.Image, error) {
	fields, err := s.rdb.HGetAll(ctx, s.subjectKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read isolated subject: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &model.Image{Data: []byte(fields["data"]), MIMEType: fields["mime"]}, nil
}

func (s *RedisStore) SetIsolatedSubject(ctx context.Context, img model.Image) error {
	key := s.subjectKey()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{"data": img.Data, "mime": img.MIMEType})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store isolated subject: %w", err)
	}
	return nil
}

// Close - 세션의 모든 키 삭제
func (s *RedisStore) Close(ctx context.Context) error {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix()+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan session keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	return nil
}
