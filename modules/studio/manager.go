package studio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kulai-character-server/modules/artifact"
	"kulai-character-server/modules/pipeline"
)

const maxSessionAge = 24 * time.Hour

// Metrics - 서버 메트릭
type Metrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	TotalRuns        int       `json:"totalRuns"`
	StartTime        time.Time `json:"startTime"`
	mutex            sync.RWMutex
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

func (m *Metrics) connectionOpened() {
	m.mutex.Lock()
	m.TotalConnections++
	m.mutex.Unlock()
}

func (m *Metrics) sessionOpened() {
	m.mutex.Lock()
	m.TotalSessions++
	m.ActiveSessions++
	m.mutex.Unlock()
}

func (m *Metrics) sessionClosed() {
	m.mutex.Lock()
	m.ActiveSessions--
	m.mutex.Unlock()
}

func (m *Metrics) runStarted() {
	m.mutex.Lock()
	m.TotalRuns++
	m.mutex.Unlock()
}

// Snapshot - 복사본
func (m *Metrics) Snapshot() Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return Metrics{
		TotalSessions:    m.TotalSessions,
		ActiveSessions:   m.ActiveSessions,
		TotalConnections: m.TotalConnections,
		TotalRuns:        m.TotalRuns,
		StartTime:        m.StartTime,
	}
}

// StoreFactory - 세션별 artifact 저장소 생성
type StoreFactory func(sessionID string) artifact.Store

// Manager - 세션 레지스트리 + 만료 정리
type Manager struct {
	sessions map[string]*pipeline.Session
	mutex    sync.RWMutex

	orch        *pipeline.Orchestrator
	newStore    StoreFactory
	defaults    pipeline.Settings
	recorder    pipeline.Recorder
	idleTimeout time.Duration
	hub         *Hub
	metrics     *Metrics
	log         zerolog.Logger
}

type ManagerOptions struct {
	Orchestrator *pipeline.Orchestrator
	NewStore     StoreFactory
	Defaults     pipeline.Settings
	Recorder     pipeline.Recorder
	IdleTimeout  time.Duration
	Hub          *Hub
	Metrics      *Metrics
}

func NewManager(opts ManagerOptions, log zerolog.Logger) *Manager {
	if opts.NewStore == nil {
		opts.NewStore = func(string) artifact.Store { return artifact.NewMemoryStore() }
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Hour
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Metrics, log)
	}
	return &Manager{
		sessions:    make(map[string]*pipeline.Session),
		orch:        opts.Orchestrator,
		newStore:    opts.NewStore,
		defaults:    opts.Defaults,
		recorder:    opts.Recorder,
		idleTimeout: opts.IdleTimeout,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		log:         log.With().Str("component", "manager").Logger(),
	}
}

// Create - 새 세션 생성 (기본 설정 적용)
func (m *Manager) Create() *pipeline.Session {
	id := uuid.NewString()
	s := pipeline.NewSession(id, m.orch, m.newStore(id), m.defaults, m.recorder, m.log)

	m.mutex.Lock()
	m.sessions[id] = s
	m.mutex.Unlock()

	m.metrics.sessionOpened()
	m.log.Info().Str("session", id).Msg("✅ Created new session")
	return s
}

func (m *Manager) Get(id string) (*pipeline.Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, pipeline.ErrNotFound)
	}
	return s, nil
}

// Delete - 세션 제거, 저장소 정리, 구독자 연결 해제
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mutex.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mutex.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, pipeline.ErrNotFound)
	}
	m.closeSession(ctx, s, "deleted")
	return nil
}

func (m *Manager) closeSession(ctx context.Context, s *pipeline.Session, reason string) {
	if err := s.Close(ctx); err != nil {
		m.log.Warn().Err(err).Str("session", s.ID).Msg("⚠️ Failed to close artifact store")
	}
	m.hub.CloseRoom(s.ID)
	m.metrics.sessionClosed()
	m.log.Info().Str("session", s.ID).Str("reason", reason).Msg("🧹 Cleaned up session")
}

// Count - 활성 세션 수
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// CleanupExpired - 오래된 세션(24시간) 또는 idle + 구독자 없는 세션 정리
// 실행 중인 세션은 건너뜀
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) int {
	var expired []*pipeline.Session
	var reasons []string

	m.mutex.Lock()
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}
		isExpired := now.Sub(s.CreatedAt()) > maxSessionAge
		isInactive := now.Sub(s.LastActive()) > m.idleTimeout && m.hub.ClientCount(id) == 0
		if !isExpired && !isInactive {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, s)
		if isExpired {
			reasons = append(reasons, "expired")
		} else {
			reasons = append(reasons, "inactive")
		}
	}
	m.mutex.Unlock()

	for i, s := range expired {
		m.closeSession(ctx, s, reasons[i])
	}
	if len(expired) > 0 {
		m.log.Info().Int("cleaned", len(expired)).Int("active", m.Count()).Msg("🧼 Cleaned up expired/inactive sessions")
	}
	return len(expired)
}

// StartCleanupRoutine - 정기 정리 (ctx 종료 시 중단)
func (m *Manager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.CleanupExpired(ctx, now)
			}
		}
	}()
	m.log.Info().Dur("interval", interval).Msg("🔄 Started session cleanup routine")
}

// CloseAll - 종료 시 모든 세션 정리
func (m *Manager) CloseAll(ctx context.Context) {
	m.mutex.Lock()
	all := make([]*pipeline.Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mutex.Unlock()

	for _, s := range all {
		m.closeSession(ctx, s, "shutdown")
	}
}

// Describe - 메트릭 응답용 세션 요약
func (m *Manager) Describe() []map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]map[string]interface{}, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, map[string]interface{}{
			"sessionId":    id,
			"clientCount":  m.hub.ClientCount(id),
			"busy":         s.Busy(),
			"createdAt":    s.CreatedAt(),
			"lastActivity": s.LastActive(),
			"inactive":     time.Since(s.LastActive()).String(),
		})
	}
	return out
}
