package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"kulai-character-server/modules/common/database"
	"kulai-character-server/modules/common/gemini"
	"kulai-character-server/modules/common/model"
	"kulai-character-server/modules/common/storage"
	"kulai-character-server/modules/common/utils"
	"kulai-character-server/modules/pipeline"
	"kulai-character-server/modules/stage"
)

const (
	defaultMaxUpload = 20 << 20
	maxPromptBytes   = 1 << 20
	previewMaxSide   = 200
	webpQuality      = 90
)

// 에러 코드
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBusy           = "BUSY"
	ErrCodeNotReady       = "NOT_READY"
	ErrCodeUpstream       = "UPSTREAM_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

var (
	errBadRequest     = errors.New("bad request")
	errNoImage        = errors.New("result has no image")
	errExportDisabled = errors.New("export storage is not configured")
)

// apiResponse - 공통 응답 포맷
type apiResponse struct {
	Success      bool        `json:"success"`
	Data         interface{} `json:"data,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	ErrorCode    string      `json:"errorCode,omitempty"`
}

type Handler struct {
	manager   *Manager
	hub       *Hub
	metrics   *Metrics
	exporter  storage.Exporter
	runs      RunStore
	exports   ExportLedger
	maxUpload int64
	log       zerolog.Logger
}

type HandlerOptions struct {
	Manager        *Manager
	Exporter       storage.Exporter
	Runs           RunStore
	Exports        ExportLedger
	MaxUploadBytes int64
}

func NewHandler(opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	return &Handler{
		manager:   opts.Manager,
		hub:       opts.Manager.hub,
		metrics:   opts.Manager.metrics,
		exporter:  opts.Exporter,
		runs:      opts.Runs,
		exports:   opts.Exports,
		maxUpload: opts.MaxUploadBytes,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.HealthCheck).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/metrics", h.GetMetrics).Methods("GET")
	r.HandleFunc("/admin/cleanup", h.ForceCleanup).Methods("POST")
	r.HandleFunc("/ws", h.HandleWebSocket)

	api := r.PathPrefix("/api/sessions").Subrouter()
	api.HandleFunc("", h.CreateSession).Methods("POST")
	api.HandleFunc("/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/{id}/settings", h.UpdateSettings).Methods("PUT")

	api.HandleFunc("/{id}/face", h.SetFace).Methods("POST")
	api.HandleFunc("/{id}/faces", h.AddFace).Methods("POST")
	api.HandleFunc("/{id}/faces/{assetId}", h.RemoveFace).Methods("DELETE")
	api.HandleFunc("/{id}/outfit", h.SetOutfit).Methods("POST")

	api.HandleFunc("/{id}/prompts/{kind}", h.LoadPrompt).Methods("PUT")
	api.HandleFunc("/{id}/prompts/{kind}", h.DownloadPrompt).Methods("GET")

	api.HandleFunc("/{id}/backgrounds", h.AddBackground).Methods("POST")
	api.HandleFunc("/{id}/backgrounds/{assetId}", h.ReplaceBackground).Methods("PUT")
	api.HandleFunc("/{id}/backgrounds/{assetId}", h.RemoveBackground).Methods("DELETE")
	api.HandleFunc("/{id}/backgrounds/{assetId}/pose", h.SetBackgroundPose).Methods("PUT")
	api.HandleFunc("/{id}/backgrounds/{assetId}/clean", h.CleanBackground).Methods("POST")
	api.HandleFunc("/{id}/assets/{assetId}/preview", h.Preview).Methods("GET")

	api.HandleFunc("/{id}/generate", h.Generate).Methods("POST")
	api.HandleFunc("/{id}/runs", h.ListRuns).Methods("GET")

	api.HandleFunc("/{id}/quick-composite/background", h.SetQuickBackground).Methods("POST")
	api.HandleFunc("/{id}/quick-composite/clean", h.CleanQuickBackground).Methods("POST")
	api.HandleFunc("/{id}/quick-composite", h.QuickComposite).Methods("POST")

	api.HandleFunc("/{id}/results/{resultId}/variant", h.GenerateVariant).Methods("POST")
	api.HandleFunc("/{id}/results/{resultId}/image", h.ResultImage).Methods("GET")
	api.HandleFunc("/{id}/results/{resultId}/export", h.ExportResult).Methods("POST")

	h.log.Info().Msg("✅ Studio routes registered")
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) ok(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

// fail - 에러 종류에 맞는 HTTP 상태 코드로 응답
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	ev := h.log.Warn()
	if status >= 500 {
		ev = h.log.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("❌ Request failed")
	writeJSON(w, status, apiResponse{Success: false, ErrorMessage: err.Error(), ErrorCode: code})
}

func statusFor(err error) (int, string) {
	var gerr *gemini.Error
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict, ErrCodeBusy
	case errors.Is(err, pipeline.ErrNotReady), errors.Is(err, errNoImage):
		return http.StatusUnprocessableEntity, ErrCodeNotReady
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrInvalidSettings), stage.IsInputError(err):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, errExportDisabled):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.As(err, &gerr):
		if gerr.RateLimited() {
			return http.StatusTooManyRequests, ErrCodeRateLimited
		}
		return http.StatusBadGateway, ErrCodeUpstream
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	s, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// readImage - multipart "file" 필드를 이미지로 읽기
// 디코딩 가능한 이미지가 아니면 거부
func (h *Handler) readImage(r *http.Request) (string, model.Image, error) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return "", model.Image{}, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", model.Image{}, fmt.Errorf("%w: file field is required", errBadRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", model.Image{}, fmt.Errorf("%w: failed to read upload: %v", errBadRequest, err)
	}
	mimeType := utils.DetectMIME(data, header.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		return "", model.Image{}, fmt.Errorf("%w: %s is not an image (%s)", errBadRequest, header.Filename, mimeType)
	}
	if _, _, err := utils.Dimensions(data); err != nil {
		return "", model.Image{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return header.Filename, model.Image{Data: data, MIMEType: mimeType}, nil
}

type poseBody struct {
	Pose string `json:"pose"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPromptBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// ---- server ----

// HealthCheck - 헬스 체크
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "kulai-character-server",
	})
}

// GetMetrics - 서버 메트릭 조회
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.metrics.Snapshot()
	sessions := h.manager.Describe()
	totalClients := 0
	for _, d := range sessions {
		totalClients += d["clientCount"].(int)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"uptime":           time.Since(metrics.StartTime).String(),
			"startTime":        metrics.StartTime,
			"totalSessions":    metrics.TotalSessions,
			"activeSessions":   metrics.ActiveSessions,
			"totalConnections": metrics.TotalConnections,
			"totalRuns":        metrics.TotalRuns,
			"currentClients":   totalClients,
		},
		"sessions": sessions,
	})
}

// ForceCleanup - 만료 세션 즉시 정리 (관리자용)
func (h *Handler) ForceCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := h.manager.CleanupExpired(r.Context(), time.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "Cleanup completed",
		"cleaned": cleaned,
	})
}

// HandleWebSocket - GET /ws?session=<id>&user=<name>
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	userID := r.URL.Query().Get("user")
	if sessionID == "" {
		http.Error(w, "session parameter is required", http.StatusBadRequest)
		return
	}
	if userID == "" {
		userID = "anonymous-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if _, err := h.manager.Get(sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	h.hub.Join(conn, sessionID, userID)
}

// ---- sessions ----

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.manager.Create()
	h.ok(w, http.StatusCreated, s.View(r.Context()))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.ok(w, http.StatusOK, s.View(r.Context()))
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	next := s.Settings()
	if err := decodeJSON(r, &next); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := s.UpdateSettings(next); err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, s.Settings())
}

// ---- assets ----

// uploadAsset - 이미지 업로드 공통 처리
func (h *Handler) uploadAsset(w http.ResponseWriter, r *http.Request, apply func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	name, img, err := h.readImage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	asset, err := apply(s, name, img)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("session", s.ID).Str("asset", asset.ID).Str("name", name).Int("bytes", len(img.Data)).Msg("📥 Asset uploaded")
	h.ok(w, http.StatusCreated, asset)
}

func (h *Handler) SetFace(w http.ResponseWriter, r *http.Request) {
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.SetFace(name, img), nil
	})
}

func (h *Handler) AddFace(w http.ResponseWriter, r *http.Request) {
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.AddFace(name, img), nil
	})
}

func (h *Handler) RemoveFace(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemoveFace(mux.Vars(r)["assetId"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetOutfit(w http.ResponseWriter, r *http.Request) {
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.SetOutfit(name, img), nil
	})
}

func (h *Handler) AddBackground(w http.ResponseWriter, r *http.Request) {
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.AddBackground(name, img), nil
	})
}

func (h *Handler) ReplaceBackground(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["assetId"]
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.ReplaceBackground(r.Context(), assetID, name, img)
	})
}

func (h *Handler) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemoveBackground(r.Context(), mux.Vars(r)["assetId"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetBackgroundPose(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body poseBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	assetID := mux.Vars(r)["assetId"]
	if err := s.SetBackgroundPose(assetID, strings.TrimSpace(body.Pose)); err != nil {
		h.fail(w, r, err)
		return
	}
	asset, _ := s.Asset(assetID)
	h.ok(w, http.StatusOK, asset)
}

func (h *Handler) CleanBackground(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	asset, err := s.CleanBackground(r.Context(), mux.Vars(r)["assetId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("session", s.ID).Str("asset", asset.ID).Msg("🧽 Background cleaned")
	h.ok(w, http.StatusOK, asset)
}

// Preview - 긴 변 200px 이하 PNG 미리보기
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	assetID := mux.Vars(r)["assetId"]
	asset, found := s.Asset(assetID)
	if !found {
		h.fail(w, r, fmt.Errorf("asset %s: %w", assetID, pipeline.ErrNotFound))
		return
	}
	data, err := utils.Preview(asset.Image.Data, previewMaxSide)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// ---- prompts ----

// LoadPrompt - raw body 또는 multipart "file" 로 텍스트 프롬프트 적재
func (h *Handler) LoadPrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	kind := pipeline.PromptKind(mux.Vars(r)["kind"])

	var reader io.Reader = io.LimitReader(r.Body, maxPromptBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxPromptBytes); err != nil {
			h.fail(w, r, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: file field is required", errBadRequest))
			return
		}
		defer file.Close()
		reader = io.LimitReader(file, maxPromptBytes)
	}

	text, err := io.ReadAll(reader)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: failed to read prompt: %v", errBadRequest, err))
		return
	}
	if err := s.SetPrompt(kind, string(text)); err != nil {
		h.fail(w, r, err)
		return
	}
	current, _ := s.Prompt(kind)
	h.ok(w, http.StatusOK, map[string]string{"kind": string(kind), "text": current})
}

// DownloadPrompt - 사용자 텍스트 우선, 없으면 AI 묘사
func (h *Handler) DownloadPrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	kind := pipeline.PromptKind(mux.Vars(r)["kind"])
	text, err := s.Prompt(kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if text == "" {
		h.fail(w, r, fmt.Errorf("%s prompt: %w", kind, pipeline.ErrNotFound))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", kind.Filename()))
	io.WriteString(w, text)
}

// ---- generation ----

// Generate - 비동기 실행 시작, 진행률은 WebSocket 으로 전달
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Start(r.Context(), h.hub.Sink(s.ID)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.runStarted()
	h.log.Info().Str("session", s.ID).Msg("🎨 Generation started")
	h.ok(w, http.StatusAccepted, s.View(r.Context()))
}

// ListRuns - 세션 실행 기록
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.runs == nil {
		h.ok(w, http.StatusOK, []database.RunRow{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.runs.ListRuns(r.Context(), s.ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, rows)
}

func (h *Handler) SetQuickBackground(w http.ResponseWriter, r *http.Request) {
	h.uploadAsset(w, r, func(s *pipeline.Session, name string, img model.Image) (model.VisualAsset, error) {
		return s.SetQuickBackground(r.Context(), name, img)
	})
}

func (h *Handler) CleanQuickBackground(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	asset, err := s.CleanQuickCompositeBackground(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, asset)
}

// QuickComposite - subject 또는 배경이 없으면 skipped=true
func (h *Handler) QuickComposite(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	item, err := s.QuickComposite(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, map[string]interface{}{
		"skipped": item == nil,
		"result":  item,
	})
}

func (h *Handler) GenerateVariant(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body poseBody
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := s.GenerateVariant(r.Context(), mux.Vars(r)["resultId"], body.Pose)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, http.StatusCreated, item)
}

func (h *Handler) result(w http.ResponseWriter, r *http.Request) (*pipeline.Session, model.ResultItem, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, model.ResultItem{}, false
	}
	resultID := mux.Vars(r)["resultId"]
	item, found := s.Result(resultID)
	if !found {
		h.fail(w, r, fmt.Errorf("result %s: %w", resultID, pipeline.ErrNotFound))
		return nil, model.ResultItem{}, false
	}
	if item.Image.IsZero() {
		h.fail(w, r, fmt.Errorf("result %s: %w", resultID, errNoImage))
		return nil, model.ResultItem{}, false
	}
	return s, item, true
}

func (h *Handler) ResultImage(w http.ResponseWriter, r *http.Request) {
	_, item, ok := h.result(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", item.Image.MIMEType)
	w.Write(item.Image.Data)
}

// ExportResult - WebP 변환 후 오브젝트 스토리지 업로드
func (h *Handler) ExportResult(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		h.fail(w, r, errExportDisabled)
		return
	}
	s, item, ok := h.result(w, r)
	if !ok {
		return
	}

	webpData, err := utils.ConvertToWebP(item.Image.Data, webpQuality)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := storage.ObjectKey(s.ID, item.ID, "webp")
	loc, err := h.exporter.Export(r.Context(), key, webpData, "image/webp")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.exports != nil {
		row := database.ExportRow{
			SessionID:   s.ID,
			ResultID:    item.ID,
			FileName:    item.ID + ".webp",
			FilePath:    loc.Path,
			FileSize:    loc.Size,
			FileType:    "image/webp",
			StorageType: loc.Backend,
		}
		// 업로드는 이미 끝났으므로 기록 실패는 경고만
		if err := h.exports.InsertExport(context.WithoutCancel(r.Context()), row); err != nil {
			h.log.Warn().Err(err).Str("result", item.ID).Msg("⚠️ Failed to record export")
		}
	}
	h.ok(w, http.StatusCreated, loc)
}
