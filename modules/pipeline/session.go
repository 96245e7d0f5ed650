package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kulai-character-server/modules/artifact"
	"kulai-character-server/modules/common/fallback"
	"kulai-character-server/modules/common/model"
)

var (
	ErrBusy     = errors.New("a generation is already in progress")
	ErrNotFound = errors.New("not found")

	ErrInvalidSettings = errors.New("invalid settings")
)

// PromptKind - 텍스트 프롬프트 종류
type PromptKind string

const (
	PromptFace   PromptKind = "face"
	PromptOutfit PromptKind = "outfit"
)

func (k PromptKind) Valid() bool { return k == PromptFace || k == PromptOutfit }

// Filename - 다운로드 파일명
func (k PromptKind) Filename() string {
	return fmt.Sprintf("kul-ai-%s-prompt.txt", k)
}

// Settings - 세션 단위 사용자 설정
type Settings struct {
	Profile model.CharacterProfile `json:"profile"`
	Art     model.ArtDirection     `json:"art"`
	Color   model.ColorPolicy      `json:"color"`
}

// RunRecord - 실행 종료 시 기록되는 요약
type RunRecord struct {
	SessionID  string
	Status     model.RunStatus
	Total      int
	Succeeded  int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder - 실행 요약 저장소 (선택)
type Recorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// Session - 한 사용자의 작업 상태 전체
// 자산, 프롬프트, 설정, 결과, 진행률, artifact 저장소를 소유
type Session struct {
	ID string

	orch     *Orchestrator
	store    artifact.Store
	recorder Recorder
	log      zerolog.Logger

	mu          sync.Mutex
	face        *model.VisualAsset
	extraFaces  []model.VisualAsset
	outfit      *model.VisualAsset
	backgrounds []model.VisualAsset
	quickBG     *model.VisualAsset

	faceText     string
	outfitText   string
	aiFaceText   string
	aiOutfitText string

	settings Settings

	generating bool
	quickBusy  bool
	status     model.RunStatus
	progress   model.ProgressState
	lastError  string
	results    []model.ResultItem
	quick      []model.ResultItem
	cleaning   map[string]bool

	createdAt  time.Time
	lastActive time.Time
}

func NewSession(id string, orch *Orchestrator, store artifact.Store, settings Settings, recorder Recorder, log zerolog.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		orch:       orch,
		store:      store,
		recorder:   recorder,
		log:        log.With().Str("session", id).Logger(),
		settings:   settings,
		status:     model.StatusIdle,
		cleaning:   make(map[string]bool),
		createdAt:  now,
		lastActive: now,
	}
}

func (s *Session) touch() { s.lastActive = time.Now() }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Busy - 메인 실행 또는 quick composite 진행 중
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating || s.quickBusy
}

// Close - artifact 저장소 정리
func (s *Session) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

func newAsset(name string, img model.Image) model.VisualAsset {
	return model.VisualAsset{ID: uuid.NewString(), Name: name, Image: img, CreatedAt: time.Now()}
}

// ---- assets ----

func (s *Session) SetFace(name string, img model.Image) model.VisualAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	a := newAsset(name, img)
	s.face = &a
	return a
}

func (s *Session) AddFace(name string, img model.Image) model.VisualAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	a := newAsset(name, img)
	s.extraFaces = append(s.extraFaces, a)
	return a
}

func (s *Session) RemoveFace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.face != nil && s.face.ID == id {
		s.face = nil
		return nil
	}
	for i, a := range s.extraFaces {
		if a.ID == id {
			s.extraFaces = append(s.extraFaces[:i], s.extraFaces[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("face %s: %w", id, ErrNotFound)
}

func (s *Session) SetOutfit(name string, img model.Image) model.VisualAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	a := newAsset(name, img)
	s.outfit = &a
	return a
}

func (s *Session) AddBackground(name string, img model.Image) model.VisualAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	a := newAsset(name, img)
	s.backgrounds = append(s.backgrounds, a)
	return a
}

// editableBackground - 실행 중이거나 clean 중인 배경은 교체/삭제/clean 불가 (mu 보유 상태에서 호출)
func (s *Session) editableBackground(id string) (int, error) {
	idx := s.backgroundIndex(id)
	if idx < 0 {
		return -1, fmt.Errorf("background %s: %w", id, ErrNotFound)
	}
	if s.generating || s.cleaning[id] {
		return -1, fmt.Errorf("background %s: %w", id, ErrBusy)
	}
	return idx, nil
}

// RemoveBackground - 배경 삭제 + cleaned artifact 제거
func (s *Session) RemoveBackground(ctx context.Context, id string) error {
	s.mu.Lock()
	idx, err := s.editableBackground(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.backgrounds = append(s.backgrounds[:idx], s.backgrounds[idx+1:]...)
	s.touch()
	s.mu.Unlock()

	return s.store.Forget(ctx, id)
}

// ReplaceBackground - 같은 ID 로 이미지 교체, 이전 clean 결과/포즈는 폐기
func (s *Session) ReplaceBackground(ctx context.Context, id, name string, img model.Image) (model.VisualAsset, error) {
	s.mu.Lock()
	idx, err := s.editableBackground(id)
	if err != nil {
		s.mu.Unlock()
		return model.VisualAsset{}, err
	}
	bg := &s.backgrounds[idx]
	bg.Name = name
	bg.Image = img
	bg.Extracted = nil
	bg.Cleaned = false
	out := *bg
	s.touch()
	s.mu.Unlock()

	return out, s.store.Forget(ctx, id)
}

// SetBackgroundPose - 배경별 포즈 override (빈 문자열이면 공통 포즈 사용)
func (s *Session) SetBackgroundPose(id, pose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.quickBG != nil && id == s.quickBG.ID {
		s.quickBG.Pose = pose
		return nil
	}
	idx := s.backgroundIndex(id)
	if idx < 0 {
		return fmt.Errorf("background %s: %w", id, ErrNotFound)
	}
	s.backgrounds[idx].Pose = pose
	return nil
}

// SetQuickBackground - quick composite 용 배경 (교체 시 이전 artifact 제거)
func (s *Session) SetQuickBackground(ctx context.Context, name string, img model.Image) (model.VisualAsset, error) {
	s.mu.Lock()
	prev := s.quickID()
	a := newAsset(name, img)
	s.quickBG = &a
	s.touch()
	s.mu.Unlock()

	if prev != "" {
		if err := s.store.Forget(ctx, prev); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (s *Session) quickID() string {
	if s.quickBG == nil {
		return ""
	}
	return s.quickBG.ID
}

func (s *Session) backgroundIndex(id string) int {
	for i, a := range s.backgrounds {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// Asset - ID 로 자산 조회 (얼굴, 추가 얼굴, 의상, 배경, quick 배경)
func (s *Session) Asset(id string) (model.VisualAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.allAssets() {
		if a.ID == id {
			return a, true
		}
	}
	return model.VisualAsset{}, false
}

func (s *Session) allAssets() []model.VisualAsset {
	var out []model.VisualAsset
	if s.face != nil {
		out = append(out, *s.face)
	}
	out = append(out, s.extraFaces...)
	if s.outfit != nil {
		out = append(out, *s.outfit)
	}
	out = append(out, s.backgrounds...)
	if s.quickBG != nil {
		out = append(out, *s.quickBG)
	}
	return out
}

// ---- prompts & settings ----

func (s *Session) SetPrompt(kind PromptKind, text string) error {
	if !kind.Valid() {
		return fmt.Errorf("prompt kind %q: %w", kind, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if kind == PromptFace {
		s.faceText = strings.TrimSpace(text)
	} else {
		s.outfitText = strings.TrimSpace(text)
	}
	return nil
}

// Prompt - 사용자 입력이 있으면 그것을, 없으면 마지막 실행의 AI 묘사를 반환
func (s *Session) Prompt(kind PromptKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("prompt kind %q: %w", kind, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ai := s.faceText, s.aiFaceText
	if kind == PromptOutfit {
		user, ai = s.outfitText, s.aiOutfitText
	}
	if user != "" {
		return user, nil
	}
	return ai, nil
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) UpdateSettings(next Settings) error {
	if !next.Art.Style.Valid() {
		return fmt.Errorf("%w: unknown art style %q", ErrInvalidSettings, next.Art.Style)
	}
	if !next.Art.Quality.Valid() {
		return fmt.Errorf("%w: unknown output quality %q", ErrInvalidSettings, next.Art.Quality)
	}
	if next.Art.IDStrictness < 0 || next.Art.IDStrictness > 100 {
		return fmt.Errorf("%w: identity strictness must be within [0,100], got %d", ErrInvalidSettings, next.Art.IDStrictness)
	}
	if !next.Color.KeepOriginal {
		hex := fallback.HexColor(next.Color.TargetHex, "")
		if hex == "" {
			return fmt.Errorf("%w: target colour %q is not #RRGGBB", ErrInvalidSettings, next.Color.TargetHex)
		}
		next.Color.TargetHex = hex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.settings = next
	return nil
}

// ---- main run ----

// Ready - 얼굴(이미지 또는 텍스트), 의상(이미지 또는 텍스트), 배경 1개 이상
func (s *Session) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validateRequest(s.request())
}

// request - 현재 상태의 GenerationRequest 스냅샷 (mu 보유 상태에서 호출)
// 텍스트가 있으면 TextSource, 없으면 이미지 분석이 필요한 ImageSource
func (s *Session) request() model.GenerationRequest {
	var extra []model.Image
	for _, a := range s.extraFaces {
		extra = append(extra, a.Image)
	}

	var face model.FaceSource
	switch {
	case s.faceText != "":
		var primary *model.Image
		if s.face != nil {
			img := s.face.Image
			primary = &img
		}
		face = model.FaceFromText(s.faceText, primary, extra...)
	case s.face != nil:
		face = model.FaceFromImage(s.face.Image, extra...)
	default:
		face = model.FaceFromText("", nil)
	}

	var outfit model.OutfitSource
	switch {
	case s.outfitText != "":
		outfit = model.OutfitFromText(s.outfitText)
	case s.outfit != nil:
		outfit = model.OutfitFromImage(s.outfit.Image, s.settings.Color)
	default:
		outfit = model.OutfitFromText("")
	}

	return model.GenerationRequest{
		Face:        face,
		Outfit:      outfit,
		Profile:     s.settings.Profile,
		Art:         s.settings.Art,
		Backgrounds: append([]model.VisualAsset(nil), s.backgrounds...),
	}
}

// begin - busy 플래그 설정 후 요청 스냅샷 반환
func (s *Session) begin() (model.GenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating || s.quickBusy {
		return model.GenerationRequest{}, ErrBusy
	}
	req := s.request()
	if err := validateRequest(req); err != nil {
		return model.GenerationRequest{}, err
	}
	s.generating = true
	s.status = model.StatusRunning
	s.lastError = ""
	s.results = nil
	s.progress = model.ProgressState{}
	s.touch()
	return req, nil
}

// Start - 실행을 백그라운드로 시작. busy/미준비 오류는 즉시 반환
// 실행은 ctx 와 분리되어 끝까지 진행됨
func (s *Session) Start(ctx context.Context, sink Sink) error {
	req, err := s.begin()
	if err != nil {
		return err
	}
	go s.execute(context.WithoutCancel(ctx), req, sink)
	return nil
}

// Generate - 동기 실행
func (s *Session) Generate(ctx context.Context, sink Sink) (*Outcome, error) {
	req, err := s.begin()
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, req, sink)
}

func (s *Session) execute(ctx context.Context, req model.GenerationRequest, sink Sink) (*Outcome, error) {
	sinks := tee{progressSink{s}}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	out, err := s.orch.Run(ctx, s.store, req, sinks)

	s.mu.Lock()
	s.generating = false
	s.touch()
	if out != nil {
		if out.FaceDescription != "" {
			s.aiFaceText = out.FaceDescription
		}
		if out.OutfitDescription != "" {
			s.aiOutfitText = out.OutfitDescription
		}
	}
	if err != nil {
		s.status = model.StatusFailed
		s.lastError = err.Error()
		s.progress = model.ProgressState{}
	} else {
		s.status = model.StatusCompleted
		// 실행 중 추가된 변형은 실행 결과 뒤에 유지
		s.results = append(append([]model.ResultItem(nil), out.Items...), s.results...)
	}
	s.mu.Unlock()

	if err == nil {
		s.refreshBackgrounds(ctx)
	}
	s.record(ctx, out, err)
	return out, err
}

// refreshBackgrounds - 실행 중 clean 된 배경을 세션 자산에 반영
func (s *Session) refreshBackgrounds(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, len(s.backgrounds))
	for i, a := range s.backgrounds {
		ids[i] = a.ID
	}
	s.mu.Unlock()

	for _, id := range ids {
		rec, err := s.store.Cleaned(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		s.mu.Lock()
		if idx := s.backgroundIndex(id); idx >= 0 && !s.backgrounds[idx].Cleaned {
			s.backgrounds[idx] = rec.Apply(s.backgrounds[idx])
		}
		s.mu.Unlock()
	}
}

func (s *Session) record(ctx context.Context, out *Outcome, runErr error) {
	if s.recorder == nil || out == nil {
		return
	}
	ok, failed := out.Counts()
	rec := RunRecord{
		SessionID:  s.ID,
		Status:     out.Status,
		Total:      out.Total,
		Succeeded:  ok,
		Failed:     failed,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := s.recorder.RecordRun(ctx, rec); err != nil {
		s.log.Warn().Err(err).Msg("⚠️ failed to record run")
	}
}

// progressSink - 세션의 진행률 상태 갱신
type progressSink struct{ s *Session }

func (p progressSink) Progress(state model.ProgressState) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.progress = state
}

func (progressSink) Results([]model.ResultItem) {}
func (progressSink) Failed(error)               {}
func (progressSink) Finished()                  {}

// ---- secondary paths ----

// QuickComposite - isolated subject + quick 배경 합성, 결과는 quick 목록에 누적
// subject 나 배경이 없으면 (nil, nil)
func (s *Session) QuickComposite(ctx context.Context) (*model.ResultItem, error) {
	s.mu.Lock()
	if s.generating || s.quickBusy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.quickBG == nil {
		s.mu.Unlock()
		return nil, nil
	}
	bg := *s.quickBG
	art := s.settings.Art
	var faceRef *model.Image
	if s.face != nil {
		img := s.face.Image
		faceRef = &img
	}
	s.quickBusy = true
	s.touch()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.quickBusy = false
		s.mu.Unlock()
	}()

	item, err := s.orch.QuickComposite(ctx, s.store, bg, art, faceRef)
	if errors.Is(err, ErrNoSubject) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.quick = append(s.quick, *item)
	s.mu.Unlock()
	return item, nil
}

// GenerateVariant - 기존 결과 기반 포즈 변형, 결과 목록 뒤에 추가
func (s *Session) GenerateVariant(ctx context.Context, resultID, pose string) (*model.ResultItem, error) {
	base, ok := s.Result(resultID)
	if !ok {
		return nil, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	item, err := s.orch.Variant(ctx, base, pose)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.results = append(s.results, *item)
	s.touch()
	s.mu.Unlock()
	return item, nil
}

// CleanBackground - 배경 수동 clean
func (s *Session) CleanBackground(ctx context.Context, assetID string) (model.VisualAsset, error) {
	s.mu.Lock()
	idx, err := s.editableBackground(assetID)
	if err != nil {
		s.mu.Unlock()
		return model.VisualAsset{}, err
	}
	bg := s.backgrounds[idx]
	s.cleaning[assetID] = true
	s.mu.Unlock()

	cleaned, err := s.orch.CleanAsset(ctx, s.store, bg)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cleaning, assetID)
	if err != nil {
		return model.VisualAsset{}, err
	}
	if idx := s.backgroundIndex(assetID); idx >= 0 {
		s.backgrounds[idx] = cleaned
	}
	s.touch()
	return cleaned, nil
}

// CleanQuickCompositeBackground - quick 배경 수동 clean
func (s *Session) CleanQuickCompositeBackground(ctx context.Context) (model.VisualAsset, error) {
	s.mu.Lock()
	if s.quickBG == nil {
		s.mu.Unlock()
		return model.VisualAsset{}, fmt.Errorf("quick composite background: %w", ErrNotFound)
	}
	bg := *s.quickBG
	s.mu.Unlock()

	cleaned, err := s.orch.CleanAsset(ctx, s.store, bg)
	if err != nil {
		return model.VisualAsset{}, err
	}

	s.mu.Lock()
	superseded := s.quickID() != bg.ID
	if !superseded {
		s.quickBG = &cleaned
	}
	s.touch()
	s.mu.Unlock()

	// 교체된 quick 배경의 결과는 저장소에 남기지 않음
	if superseded {
		if err := s.store.Forget(ctx, bg.ID); err != nil {
			s.log.Warn().Err(err).Str("asset", bg.ID).Msg("⚠️ failed to drop superseded quick background")
		}
	}
	return cleaned, nil
}

// Result - 메인/변형/quick 결과 조회
func (s *Session) Result(id string) (model.ResultItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.results {
		if it.ID == id {
			return it, true
		}
	}
	for _, it := range s.quick {
		if it.ID == id {
			return it, true
		}
	}
	return model.ResultItem{}, false
}

// ---- view ----

// View - JSON 응답용 세션 스냅샷 (이미지 바이트 제외)
type View struct {
	ID                string              `json:"id"`
	Status            model.RunStatus     `json:"status"`
	Generating        bool                `json:"generating"`
	QuickBusy         bool                `json:"quickBusy"`
	Progress          model.ProgressState `json:"progress"`
	LastError         string              `json:"lastError,omitempty"`
	Face              *model.VisualAsset  `json:"face,omitempty"`
	AdditionalFaces   []model.VisualAsset `json:"additionalFaces"`
	Outfit            *model.VisualAsset  `json:"outfit,omitempty"`
	Backgrounds       []model.VisualAsset `json:"backgrounds"`
	QuickBackground   *model.VisualAsset  `json:"quickBackground,omitempty"`
	FacePrompt        string              `json:"facePrompt"`
	OutfitPrompt      string              `json:"outfitPrompt"`
	AIFacePrompt      string              `json:"aiFacePrompt,omitempty"`
	AIOutfitPrompt    string              `json:"aiOutfitPrompt,omitempty"`
	Settings          Settings            `json:"settings"`
	Results           []model.ResultItem  `json:"results"`
	QuickResults      []model.ResultItem  `json:"quickResults"`
	CanGenerate       bool                `json:"canGenerate"`
	CanQuickComposite bool                `json:"canQuickComposite"`
	CreatedAt         time.Time           `json:"createdAt"`
	LastActive        time.Time           `json:"lastActive"`
}

func (s *Session) View(ctx context.Context) View {
	subject, _ := s.store.IsolatedSubject(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	busy := s.generating || s.quickBusy
	return View{
		ID:                s.ID,
		Status:            s.status,
		Generating:        s.generating,
		QuickBusy:         s.quickBusy,
		Progress:          s.progress,
		LastError:         s.lastError,
		Face:              copyPtr(s.face),
		AdditionalFaces:   append([]model.VisualAsset(nil), s.extraFaces...),
		Outfit:            copyPtr(s.outfit),
		Backgrounds:       append([]model.VisualAsset(nil), s.backgrounds...),
		QuickBackground:   copyPtr(s.quickBG),
		FacePrompt:        s.faceText,
		OutfitPrompt:      s.outfitText,
		AIFacePrompt:      s.aiFaceText,
		AIOutfitPrompt:    s.aiOutfitText,
		Settings:          s.settings,
		Results:           append([]model.ResultItem(nil), s.results...),
		QuickResults:      append([]model.ResultItem(nil), s.quick...),
		CanGenerate:       !busy && validateRequest(s.request()) == nil,
		CanQuickComposite: !busy && subject != nil && s.quickBG != nil,
		CreatedAt:         s.createdAt,
		LastActive:        s.lastActive,
	}
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
