package artifact

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kulai-character-server/modules/common/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStoreCleanedLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "abc", time.Hour)

	if bg, err := s.Cleaned(ctx, "bg-1"); err != nil || bg != nil {
		t.Fatalf("expected no cleaned background, got %v %v", bg, err)
	}
	if pose, err := s.Pose(ctx, "bg-1"); err != nil || pose != nil {
		t.Fatalf("missing pose should be (nil, nil), got %v %v", pose, err)
	}

	// PNG 시그니처처럼 텍스트가 아닌 바이트도 그대로 보존되어야 함
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff, 0x0a}
	pose := model.PoseMetadata{Location: "left", Scale: "1/3", Angle: "front", Lighting: "noon"}
	if err := s.SetCleaned(ctx, "bg-1", model.Image{Data: data, MIMEType: "image/png"}, pose); err != nil {
		t.Fatalf("SetCleaned returned error: %v", err)
	}

	got, err := s.Pose(ctx, "bg-1")
	if err != nil || got == nil || *got != pose {
		t.Fatalf("Pose mismatch: got %+v err %v", got, err)
	}

	bg, err := s.Cleaned(ctx, "bg-1")
	if err != nil || bg == nil {
		t.Fatalf("Cleaned = %v, %v", bg, err)
	}
	if !bg.Cleaned || !bytes.Equal(bg.Image.Data, data) || bg.Image.MIMEType != "image/png" || bg.Pose != pose {
		t.Fatalf("cleaned record mismatch: %+v", bg)
	}
	if ttl := mr.TTL(s.backgroundKey("bg-1")); ttl != time.Hour {
		t.Fatalf("background ttl = %v", ttl)
	}

	replaced := model.PoseMetadata{Location: "right"}
	if err := s.SetCleaned(ctx, "bg-1", model.Image{Data: []byte("clean2")}, replaced); err != nil {
		t.Fatalf("second SetCleaned: %v", err)
	}
	bg, _ = s.Cleaned(ctx, "bg-1")
	if bg.Pose != replaced || string(bg.Image.Data) != "clean2" || bg.Image.MIMEType != "" {
		t.Fatalf("re-clean should replace the record wholesale, got %+v", bg)
	}

	if err := s.Forget(ctx, "bg-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if got, err := s.Pose(ctx, "bg-1"); err != nil || got != nil {
		t.Fatalf("forgotten asset still has pose %+v (%v)", got, err)
	}
	if bg, _ := s.Cleaned(ctx, "bg-1"); bg != nil {
		t.Fatalf("forgotten asset still cleaned: %+v", bg)
	}
}

func TestRedisStoreCleanedFlag(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "abc", 0)

	rdb.HSet(ctx, s.backgroundKey("bg-2"), "data", "raw", "pose", `{"location":"x"}`, "cleaned", "0")
	bg, err := s.Cleaned(ctx, "bg-2")
	if err != nil || bg == nil || bg.Cleaned {
		t.Fatalf("cleaned flag should follow the stored field, got %+v %v", bg, err)
	}
}

func TestRedisStoreIsolatedSubjectOverwrite(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "abc", 0)

	if img, err := s.IsolatedSubject(ctx); err != nil || img != nil {
		t.Fatalf("fresh store should have no isolated subject, got %v %v", img, err)
	}
	_ = s.SetIsolatedSubject(ctx, model.Image{Data: []byte("one"), MIMEType: "image/png"})
	_ = s.SetIsolatedSubject(ctx, model.Image{Data: []byte("two"), MIMEType: "image/webp"})

	img, err := s.IsolatedSubject(ctx)
	if err != nil || img == nil {
		t.Fatalf("IsolatedSubject = %v, %v", img, err)
	}
	if string(img.Data) != "two" || img.MIMEType != "image/webp" {
		t.Fatalf("isolated subject = %q (%s), want two (image/webp)", img.Data, img.MIMEType)
	}
}

func TestRedisStoreCloseDropsOnlyOwnKeys(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, "abc", 0)
	other := NewRedisStore(rdb, "xyz", 0)

	_ = s.SetIsolatedSubject(ctx, model.Image{Data: []byte("subject")})
	for _, id := range []string{"bg-1", "bg-2", "bg-3"} {
		_ = s.SetCleaned(ctx, id, model.Image{Data: []byte(id)}, model.PoseMetadata{Location: id})
	}
	_ = other.SetIsolatedSubject(ctx, model.Image{Data: []byte("other")})

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, key := range mr.Keys() {
		if key != other.subjectKey() {
			t.Fatalf("key %q survived Close", key)
		}
	}
	if img, _ := other.IsolatedSubject(ctx); img == nil || string(img.Data) != "other" {
		t.Fatal("Close must not touch another session's keys")
	}

	// 빈 세션 Close 는 no-op
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
