package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"kulai-character-server/modules/artifact"
	"kulai-character-server/modules/common/logger"
	"kulai-character-server/modules/common/model"
	"kulai-character-server/modules/stage"
)

func pngOf(t *testing.T, w, h int) model.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return model.Image{Data: buf.Bytes(), MIMEType: "image/png"}
}

// fakeStager - 단계별 실패/지연을 주입할 수 있는 Stager
type fakeStager struct {
	mu          sync.Mutex
	calls       map[stage.Name]int
	fail        map[stage.Name]error
	compositeBy map[int]error // width -> error
	delayBy     map[int]time.Duration
	inflight    int
	maxInflight int
	composites  []stage.CompositeInput
}

func newFake() *fakeStager {
	return &fakeStager{
		calls:       map[stage.Name]int{},
		fail:        map[stage.Name]error{},
		compositeBy: map[int]error{},
		delayBy:     map[int]time.Duration{},
	}
}

func (f *fakeStager) hit(name stage.Name) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if err := f.fail[name]; err != nil {
		return &stage.Error{Stage: name, Err: err}
	}
	return nil
}

func (f *fakeStager) count(name stage.Name) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStager) DescribeFace(context.Context, model.Image, ...model.Image) (string, error) {
	if err := f.hit(stage.NameDescribeFace); err != nil {
		return "", err
	}
	return "ai face", nil
}

func (f *fakeStager) DescribeOutfit(context.Context, model.Image, model.ColorPolicy) (string, error) {
	if err := f.hit(stage.NameDescribeOutfit); err != nil {
		return "", err
	}
	return "ai outfit", nil
}

func (f *fakeStager) CreateMasterSubject(context.Context, stage.MasterInput) (model.Image, error) {
	if err := f.hit(stage.NameCreateMaster); err != nil {
		return model.Image{}, err
	}
	return model.Image{Data: []byte("master")}, nil
}

func (f *fakeStager) IsolateSubject(context.Context, model.Image) (model.Image, error) {
	if err := f.hit(stage.NameIsolate); err != nil {
		return model.Image{}, err
	}
	return model.Image{Data: []byte("subject")}, nil
}

func (f *fakeStager) CleanBackground(_ context.Context, bg model.Image) (*stage.CleanResult, error) {
	if err := f.hit(stage.NameCleanBG); err != nil {
		return nil, err
	}
	return &stage.CleanResult{
		Image: model.Image{Data: bg.Data, MIMEType: "image/png"},
		Pose:  model.PoseMetadata{Location: "cleaned", Scale: "s", Angle: "a", Lighting: "l"},
	}, nil
}

func (f *fakeStager) CompositeScene(_ context.Context, in stage.CompositeInput) (model.Image, error) {
	f.mu.Lock()
	f.calls[stage.NameComposite]++
	f.composites = append(f.composites, in)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.delayBy[in.Width]
	err := f.compositeBy[in.Width]
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
	if err != nil {
		return model.Image{}, &stage.Error{Stage: stage.NameComposite, Err: err}
	}
	return model.Image{Data: []byte(fmt.Sprintf("out-%dx%d", in.Width, in.Height))}, nil
}

func (f *fakeStager) GenerateVariant(_ context.Context, base model.Image, pose string) (model.Image, error) {
	if strings.TrimSpace(pose) == "" {
		return model.Image{}, &stage.Error{Stage: stage.NameVariant, Err: stage.ErrEmptyPose}
	}
	if err := f.hit(stage.NameVariant); err != nil {
		return model.Image{}, err
	}
	return model.Image{Data: append([]byte("var-"), base.Data...)}, nil
}

func backgrounds(t *testing.T, widths ...int) []model.VisualAsset {
	out := make([]model.VisualAsset, len(widths))
	for i, w := range widths {
		out[i] = model.VisualAsset{ID: fmt.Sprintf("bg-%d", i), Image: pngOf(t, w, 20)}
	}
	return out
}

func imageRequest(t *testing.T, bgs []model.VisualAsset, autoClean bool) model.GenerationRequest {
	return model.GenerationRequest{
		Face:        model.FaceFromImage(pngOf(t, 8, 8)),
		Outfit:      model.OutfitFromImage(pngOf(t, 8, 8), model.ColorPolicy{KeepOriginal: true}),
		Art:         model.ArtDirection{Pose: "standing", IDStrictness: 90, AutoCleanBackgrounds: autoClean},
		Backgrounds: bgs,
	}
}

func TestRunPreservesOrderAndCountsSteps(t *testing.T) {
	f := newFake()
	// 첫 배경이 가장 늦게 끝남
	f.delayBy[11] = 40 * time.Millisecond
	f.delayBy[12] = 20 * time.Millisecond

	o := NewOrchestrator(f, 3, logger.Nop())
	rec := &Recording{}
	req := imageRequest(t, backgrounds(t, 11, 12, 13), true)

	out, err := o.Run(context.Background(), artifact.NewMemoryStore(), req, rec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// face + outfit + master + isolate + 3 clean + 3 composite
	if out.Total != 10 {
		t.Fatalf("total = %d, want 10", out.Total)
	}
	items := rec.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, it := range items {
		if it.SourceBackgroundID != fmt.Sprintf("bg-%d", i) {
			t.Fatalf("item %d out of order: %s", i, it.SourceBackgroundID)
		}
		if it.Status != model.ResultSuccess || !strings.HasPrefix(it.ID, "gen-") {
			t.Fatalf("item %d unexpected: %+v", i, it)
		}
		want := fmt.Sprintf("out-%dx20", 11+i)
		if string(it.Image.Data) != want {
			t.Fatalf("item %d image = %q, want %q", i, it.Image.Data, want)
		}
	}

	events := rec.ProgressEvents()
	last := 0
	for _, e := range events {
		if e.Total != 10 {
			t.Fatalf("total changed mid-run: %+v", e)
		}
		if e.Current < last {
			t.Fatalf("progress went backwards: %d -> %d", last, e.Current)
		}
		last = e.Current
	}
	if last != 10 {
		t.Fatalf("final progress = %d, want 10", last)
	}
	if rec.FinishedCount() != 1 || rec.Err() != nil {
		t.Fatalf("sink finished=%d err=%v", rec.FinishedCount(), rec.Err())
	}
	if out.FaceDescription != "ai face" || out.OutfitDescription != "ai outfit" {
		t.Fatalf("AI descriptions not reported: %+v", out)
	}
}

func TestRunLeadingFailureProducesNoItems(t *testing.T) {
	for _, name := range []stage.Name{stage.NameDescribeFace, stage.NameDescribeOutfit, stage.NameCreateMaster, stage.NameIsolate} {
		t.Run(string(name), func(t *testing.T) {
			f := newFake()
			f.fail[name] = errors.New("boom")
			rec := &Recording{}

			out, err := NewOrchestrator(f, 2, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), imageRequest(t, backgrounds(t, 10, 11), false), rec)
			if err == nil {
				t.Fatal("expected run failure")
			}
			if stage.StageOf(err) != name {
				t.Fatalf("error stage = %q, want %q", stage.StageOf(err), name)
			}
			if out.Status != model.StatusFailed || len(out.Items) != 0 || len(rec.Items()) != 0 {
				t.Fatalf("failed run must not produce items: %+v", out)
			}
			if rec.Err() == nil || rec.FinishedCount() != 1 {
				t.Fatal("sink should receive Failed then Finished")
			}
			if f.count(stage.NameComposite) != 0 {
				t.Fatal("no composite should run after a leading failure")
			}
		})
	}
}

func TestRunTextSourcesSkipAnalysis(t *testing.T) {
	f := newFake()
	req := imageRequest(t, backgrounds(t, 10), false)
	req.Face = model.FaceFromText("round face", nil)
	req.Outfit = model.OutfitFromText("blue coat")

	out, err := NewOrchestrator(f, 1, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), req, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Total != 3 {
		t.Fatalf("total = %d, want 3", out.Total)
	}
	if f.count(stage.NameDescribeFace) != 0 || f.count(stage.NameDescribeOutfit) != 0 {
		t.Fatal("analysis stages should be skipped for text sources")
	}
	if f.composites[0].FaceReference != nil {
		t.Fatal("no face reference expected without a face image")
	}
}

func TestRunItemFailureIsIsolated(t *testing.T) {
	f := newFake()
	f.compositeBy[11] = errors.New("quota")

	out, err := NewOrchestrator(f, 2, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), imageRequest(t, backgrounds(t, 10, 11, 12), false), nil)
	if err != nil {
		t.Fatalf("item failure must not fail the run: %v", err)
	}
	if out.Status != model.StatusCompleted {
		t.Fatalf("status = %s", out.Status)
	}
	failed := out.Items[1]
	if failed.Status != model.ResultFailed || failed.Image != nil || !strings.HasPrefix(failed.ID, "fail-") {
		t.Fatalf("unexpected failed item: %+v", failed)
	}
	if !strings.HasPrefix(failed.ErrorMessage, FailedItemPrefix) || !strings.Contains(failed.ErrorMessage, "quota") {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
	if out.Items[0].Status != model.ResultSuccess || out.Items[2].Status != model.ResultSuccess {
		t.Fatal("sibling items should still succeed")
	}
}

func TestRunCleanFailureFallsBack(t *testing.T) {
	f := newFake()
	f.fail[stage.NameCleanBG] = errors.New("no image")
	store := artifact.NewMemoryStore()

	out, err := NewOrchestrator(f, 2, logger.Nop()).Run(context.Background(), store, imageRequest(t, backgrounds(t, 10), true), nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Items[0].Status != model.ResultSuccess {
		t.Fatalf("composite should use the original background: %+v", out.Items[0])
	}
	if f.composites[0].Pose != nil {
		t.Fatal("no pose metadata expected after failed clean")
	}
	if rec, _ := store.Cleaned(context.Background(), "bg-0"); rec != nil {
		t.Fatal("failed clean must not be cached")
	}
}

func TestRunReusesCleanedBackgrounds(t *testing.T) {
	f := newFake()
	store := artifact.NewMemoryStore()
	o := NewOrchestrator(f, 2, logger.Nop())
	req := imageRequest(t, backgrounds(t, 10, 11), true)

	if _, err := o.Run(context.Background(), store, req, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if f.count(stage.NameCleanBG) != 2 {
		t.Fatalf("first run should clean both backgrounds, got %d", f.count(stage.NameCleanBG))
	}

	out, err := o.Run(context.Background(), store, req, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.count(stage.NameCleanBG) != 2 {
		t.Fatal("already cleaned backgrounds must not be cleaned again")
	}
	// face + outfit + master + isolate + 2 composite
	if out.Total != 6 {
		t.Fatalf("total = %d, want 6", out.Total)
	}
	last := f.composites[len(f.composites)-1]
	if last.Pose == nil || last.Pose.Location != "cleaned" {
		t.Fatalf("stored pose should be reused: %+v", last.Pose)
	}
}

func TestRunPoseOverride(t *testing.T) {
	f := newFake()
	bgs := backgrounds(t, 10, 11)
	bgs[1].Pose = "  sitting  "

	if _, err := NewOrchestrator(f, 1, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), imageRequest(t, bgs, false), nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	poses := map[int]string{}
	for _, c := range f.composites {
		poses[c.Width] = c.Art.Pose
	}
	if poses[10] != "standing" || poses[11] != "sitting" {
		t.Fatalf("pose override mismatch: %v", poses)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	f := newFake()
	widths := []int{10, 11, 12, 13, 14, 15}
	for _, w := range widths {
		f.delayBy[w] = 15 * time.Millisecond
	}

	if _, err := NewOrchestrator(f, 2, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), imageRequest(t, backgrounds(t, widths...), false), nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if f.maxInflight > 2 {
		t.Fatalf("max in-flight composites = %d, want <= 2", f.maxInflight)
	}
}

func TestRunRejectsIncompleteRequest(t *testing.T) {
	req := imageRequest(t, nil, false)
	if _, err := NewOrchestrator(newFake(), 1, logger.Nop()).Run(context.Background(), artifact.NewMemoryStore(), req, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestQuickCompositeWithoutSubject(t *testing.T) {
	o := NewOrchestrator(newFake(), 1, logger.Nop())
	bg := model.VisualAsset{ID: "q", Image: pngOf(t, 10, 10)}
	if _, err := o.QuickComposite(context.Background(), artifact.NewMemoryStore(), bg, model.ArtDirection{}, nil); !errors.Is(err, ErrNoSubject) {
		t.Fatalf("expected ErrNoSubject, got %v", err)
	}
}
