// Package pipeline sequences the synthesis stages for one session: the
// mandatory leading phases, the bounded per-background fan-out and the
// secondary quick-composite and variant paths.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kulai-character-server/modules/artifact"
	"kulai-character-server/modules/common/model"
	"kulai-character-server/modules/common/utils"
	"kulai-character-server/modules/stage"
)

// FailedItemPrefix - 실패한 ResultItem 메시지 prefix
const FailedItemPrefix = "image generation error: "

const defaultMaxConcurrency = 3

// Stager - 7개 단계 (stage.Stages 가 구현)
type Stager interface {
	DescribeFace(ctx context.Context, primary model.Image, additional ...model.Image) (string, error)
	DescribeOutfit(ctx context.Context, outfit model.Image, color model.ColorPolicy) (string, error)
	CreateMasterSubject(ctx context.Context, in stage.MasterInput) (model.Image, error)
	IsolateSubject(ctx context.Context, master model.Image) (model.Image, error)
	CleanBackground(ctx context.Context, background model.Image) (*stage.CleanResult, error)
	CompositeScene(ctx context.Context, in stage.CompositeInput) (model.Image, error)
	GenerateVariant(ctx context.Context, base model.Image, pose string) (model.Image, error)
}

type Orchestrator struct {
	stages         Stager
	log            zerolog.Logger
	maxConcurrency int
	newID          func() string
	now            func() time.Time
}

func NewOrchestrator(stages Stager, maxConcurrency int, log zerolog.Logger) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Orchestrator{
		stages:         stages,
		log:            log.With().Str("component", "pipeline").Logger(),
		maxConcurrency: maxConcurrency,
		newID:          uuid.NewString,
		now:            time.Now,
	}
}

// Outcome - 한 번의 Run 결과
// FaceDescription/OutfitDescription 은 이번 실행에서 AI 가 생성한 경우에만 채워짐
type Outcome struct {
	Status            model.RunStatus
	Items             []model.ResultItem
	Total             int
	FaceDescription   string
	OutfitDescription string
	StartedAt         time.Time
	FinishedAt        time.Time
}

func (o *Outcome) Counts() (succeeded, failed int) {
	for _, it := range o.Items {
		if it.Status == model.ResultSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// plan - 실행 전에 고정되는 단계 구성
type plan struct {
	analyzeFace   bool
	analyzeOutfit bool
	backgrounds   []model.VisualAsset
	clean         []bool
}

func (p plan) total() int {
	n := 2 + len(p.backgrounds)
	if p.analyzeFace {
		n++
	}
	if p.analyzeOutfit {
		n++
	}
	for _, c := range p.clean {
		if c {
			n++
		}
	}
	return n
}

// makePlan - 저장소의 cleaned 기록을 반영하고 auto-clean 대상 결정
func (o *Orchestrator) makePlan(ctx context.Context, store artifact.Store, req model.GenerationRequest) plan {
	p := plan{
		analyzeFace:   req.Face.NeedsAnalysis(),
		analyzeOutfit: req.Outfit.NeedsAnalysis(),
		backgrounds:   make([]model.VisualAsset, len(req.Backgrounds)),
		clean:         make([]bool, len(req.Backgrounds)),
	}
	for i, bg := range req.Backgrounds {
		rec, err := store.Cleaned(ctx, bg.ID)
		if err != nil {
			o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ failed to read cleaned background, using original")
		}
		bg = rec.Apply(bg)
		p.backgrounds[i] = bg
		p.clean[i] = req.Art.AutoCleanBackgrounds && !bg.Cleaned
	}
	return p
}

// Run - 메인 파이프라인 실행
// 선행 단계(분석 → master → isolate) 실패 시 ResultItem 없이 Failed.
// 배경별 유닛은 서로 독립이며 실패해도 다른 유닛에 영향 없음
func (o *Orchestrator) Run(ctx context.Context, store artifact.Store, req model.GenerationRequest, sink Sink) (*Outcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NopSink{}
	}
	out := &Outcome{Status: model.StatusRunning, StartedAt: o.now()}

	p := o.makePlan(ctx, store, req)
	out.Total = p.total()
	progress := newTracker(out.Total, sink)

	o.log.Info().Int("backgrounds", len(p.backgrounds)).Int("total", out.Total).Msg("🎬 generation run started")

	fail := func(err error) (*Outcome, error) {
		out.Status = model.StatusFailed
		out.FinishedAt = o.now()
		o.log.Error().Err(err).Str("stage", string(stage.StageOf(err))).Msg("❌ generation run failed")
		sink.Failed(err)
		sink.Finished()
		return out, err
	}

	faceText := req.Face.Text
	if p.analyzeFace {
		progress.step("Analyzing face...")
		text, err := o.stages.DescribeFace(ctx, *req.Face.Primary, req.Face.Additional...)
		if err != nil {
			return fail(err)
		}
		faceText = text
		out.FaceDescription = text
	} else {
		progress.note("Using provided face description")
	}

	outfitText := req.Outfit.Text
	if p.analyzeOutfit {
		progress.step("Analyzing outfit...")
		text, err := o.stages.DescribeOutfit(ctx, *req.Outfit.Image, req.Outfit.Color)
		if err != nil {
			return fail(err)
		}
		outfitText = text
		out.OutfitDescription = text
	} else {
		progress.note("Using provided outfit description")
	}

	progress.step("Creating master character...")
	master, err := o.stages.CreateMasterSubject(ctx, stage.MasterInput{
		FaceText:   faceText,
		FaceImages: req.Face.References(),
		OutfitText: outfitText,
		Profile:    req.Profile,
		Art:        req.Art,
	})
	if err != nil {
		return fail(err)
	}

	progress.step("Isolating character...")
	subject, err := o.stages.IsolateSubject(ctx, master)
	if err != nil {
		return fail(err)
	}
	if err := store.SetIsolatedSubject(ctx, subject); err != nil {
		return fail(fmt.Errorf("failed to store isolated subject: %w", err))
	}

	out.Items = o.fanOut(ctx, store, req, p, subject, progress)
	out.Status = model.StatusCompleted
	out.FinishedAt = o.now()

	ok, failed := out.Counts()
	o.log.Info().Int("succeeded", ok).Int("failed", failed).Dur("elapsed", out.FinishedAt.Sub(out.StartedAt)).Msg("✅ generation run completed")

	sink.Results(out.Items)
	sink.Finished()
	return out, nil
}

// fanOut - 배경별 유닛을 SetLimit 로 제한된 errgroup 에서 실행
// 결과는 인덱스로 저장하므로 요청 순서 유지
func (o *Orchestrator) fanOut(ctx context.Context, store artifact.Store, req model.GenerationRequest, p plan, subject model.Image, progress *tracker) []model.ResultItem {
	n := len(p.backgrounds)
	items := make([]model.ResultItem, n)

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)

	for i := range p.backgrounds {
		g.Go(func() error {
			items[i] = o.runUnit(ctx, store, req, p.backgrounds[i], p.clean[i], subject, progress, i, n)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (o *Orchestrator) runUnit(ctx context.Context, store artifact.Store, req model.GenerationRequest, bg model.VisualAsset, clean bool, subject model.Image, progress *tracker, idx, n int) model.ResultItem {
	if clean {
		progress.step(fmt.Sprintf("Cleaning background %d/%d...", idx+1, n))
		cleaned, err := o.clean(ctx, store, bg)
		if err != nil {
			o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ background clean failed, using original background")
		} else {
			bg = cleaned
		}
	}

	progress.step(fmt.Sprintf("Compositing scene %d/%d...", idx+1, n))
	img, err := o.composite(ctx, store, bg, subject, req.Art.WithPose(bg.PoseOverride(req.Art.Pose)), req.Face.Primary)
	if err != nil {
		o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ composite failed")
		return o.failedItem(bg.ID, model.KindMain, err)
	}
	return model.ResultItem{
		ID:                 "gen-" + o.newID(),
		Image:              &img,
		SourceBackgroundID: bg.ID,
		Status:             model.ResultSuccess,
		Kind:               model.KindMain,
		CreatedAt:          o.now(),
	}
}

// clean - clean-background 호출 후 저장소 갱신, 교체된 자산 반환
func (o *Orchestrator) clean(ctx context.Context, store artifact.Store, bg model.VisualAsset) (model.VisualAsset, error) {
	res, err := o.stages.CleanBackground(ctx, bg.Image)
	if err != nil {
		return bg, err
	}
	if err := store.SetCleaned(ctx, bg.ID, res.Image, res.Pose); err != nil {
		o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ failed to cache cleaned background")
	}
	rec := &artifact.CleanedBackground{Image: res.Image, Pose: res.Pose, Cleaned: true}
	return rec.Apply(bg), nil
}

// composite - 현재 배경 바이트와 PoseMetadata 로 합성
func (o *Orchestrator) composite(ctx context.Context, store artifact.Store, bg model.VisualAsset, subject model.Image, art model.ArtDirection, faceRef *model.Image) (model.Image, error) {
	pose := bg.Extracted
	if pose == nil {
		stored, err := store.Pose(ctx, bg.ID)
		if err != nil {
			o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ failed to read pose metadata")
		}
		pose = stored
	}

	width, height, err := utils.Dimensions(bg.Image.Data)
	if err != nil {
		return model.Image{}, fmt.Errorf("failed to read background dimensions: %w", err)
	}

	if faceRef.IsZero() {
		faceRef = nil
	}
	return o.stages.CompositeScene(ctx, stage.CompositeInput{
		Subject:       subject,
		Background:    bg.Image,
		Art:           art,
		Pose:          pose,
		FaceReference: faceRef,
		Width:         width,
		Height:        height,
	})
}

func (o *Orchestrator) failedItem(sourceID string, kind model.ResultKind, err error) model.ResultItem {
	return model.ResultItem{
		ID:                 "fail-" + o.newID(),
		SourceBackgroundID: sourceID,
		Status:             model.ResultFailed,
		ErrorMessage:       FailedItemPrefix + err.Error(),
		Kind:               kind,
		CreatedAt:          o.now(),
	}
}

// ErrNotReady - 얼굴/의상/배경 중 빠진 입력이 있음
var ErrNotReady = errors.New("face, outfit and at least one background are required")

func validateRequest(req model.GenerationRequest) error {
	if err := req.Face.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if err := req.Outfit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if len(req.Backgrounds) == 0 {
		return fmt.Errorf("%w: no background selected", ErrNotReady)
	}
	return nil
}

// ErrNoSubject - 저장된 isolated subject 가 없음
var ErrNoSubject = errors.New("no isolated subject available")

// QuickComposite - 저장된 isolated subject 를 새 배경에 바로 합성
// 선행 단계를 모두 건너뛰는 단일 유닛
func (o *Orchestrator) QuickComposite(ctx context.Context, store artifact.Store, bg model.VisualAsset, art model.ArtDirection, faceRef *model.Image) (*model.ResultItem, error) {
	subject, err := store.IsolatedSubject(ctx)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, ErrNoSubject
	}

	rec, err := store.Cleaned(ctx, bg.ID)
	if err != nil {
		o.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ failed to read cleaned background, using original")
	}
	bg = rec.Apply(bg)

	o.log.Info().Str("asset", bg.ID).Bool("cleaned", bg.Cleaned).Msg("⚡ quick composite started")
	img, err := o.composite(ctx, store, bg, *subject, art.WithPose(bg.PoseOverride(art.Pose)), faceRef)
	if err != nil {
		return nil, err
	}
	return &model.ResultItem{
		ID:                 "q-gen-" + o.newID(),
		Image:              &img,
		SourceBackgroundID: bg.ID,
		Status:             model.ResultSuccess,
		Kind:               model.KindQuick,
		CreatedAt:          o.now(),
	}, nil
}

// Variant - 기존 결과 이미지에서 포즈만 바꾼 새 ResultItem
func (o *Orchestrator) Variant(ctx context.Context, base model.ResultItem, pose string) (*model.ResultItem, error) {
	if base.Image.IsZero() {
		return nil, fmt.Errorf("result %s has no image", base.ID)
	}
	img, err := o.stages.GenerateVariant(ctx, *base.Image, pose)
	if err != nil {
		return nil, err
	}
	return &model.ResultItem{
		ID:                 "var-" + o.newID(),
		Image:              &img,
		SourceBackgroundID: base.SourceBackgroundID,
		Status:             model.ResultSuccess,
		Kind:               model.KindVariant,
		CreatedAt:          o.now(),
	}, nil
}

// CleanAsset - 수동 clean-background (auto-clean 과 달리 실패 시 에러 반환)
func (o *Orchestrator) CleanAsset(ctx context.Context, store artifact.Store, bg model.VisualAsset) (model.VisualAsset, error) {
	o.log.Info().Str("asset", bg.ID).Msg("🧹 cleaning background")
	return o.clean(ctx, store, bg)
}
