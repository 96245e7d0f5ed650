package studio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kulai-character-server/modules/common/model"
	"kulai-character-server/modules/pipeline"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// 메시지 타입
const (
	MsgUserJoined = "user_joined"
	MsgUserLeft   = "user_left"
	MsgProgress   = "progress"
	MsgResults    = "results"
	MsgError      = "error"
	MsgFinished   = "finished"
)

// Message - 세션 구독자에게 보내는 이벤트
type Message struct {
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId"`
	UserID    string               `json:"userId,omitempty"`
	Progress  *model.ProgressState `json:"progress,omitempty"`
	Results   []model.ResultItem   `json:"results,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// 연결된 클라이언트 정보
type client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// room - 세션 하나의 구독자 목록
type room struct {
	id      string
	clients map[string]*client
	mutex   sync.RWMutex
}

// Hub - 세션별 WebSocket 브로드캐스트
type Hub struct {
	rooms   map[string]*room
	mutex   sync.RWMutex
	metrics *Metrics
	log     zerolog.Logger
}

func NewHub(metrics *Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]*room),
		metrics: metrics,
		log:     log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) getOrCreateRoom(sessionID string) *room {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &room{id: sessionID, clients: make(map[string]*client)}
		h.rooms[sessionID] = r
	}
	return r
}

// ClientCount - 세션에 연결된 클라이언트 수
func (h *Hub) ClientCount(sessionID string) int {
	h.mutex.RLock()
	r, ok := h.rooms[sessionID]
	h.mutex.RUnlock()
	if !ok {
		return 0
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.clients)
}

// Join - 업그레이드된 연결을 세션에 등록하고 read/write pump 시작
func (h *Hub) Join(conn *websocket.Conn, sessionID, userID string) {
	c := &client{conn: conn, userID: userID, send: make(chan []byte, 256)}
	r := h.getOrCreateRoom(sessionID)

	r.mutex.Lock()
	if old, exists := r.clients[userID]; exists {
		close(old.send)
	}
	r.clients[userID] = c
	count := len(r.clients)
	r.mutex.Unlock()

	h.metrics.connectionOpened()
	h.log.Info().Str("session", sessionID).Str("user", userID).Int("clients", count).Msg("👤 Client joined session")

	h.Broadcast(sessionID, Message{Type: MsgUserJoined, SessionID: sessionID, UserID: userID})

	go c.writePump(h.log)
	go c.readPump(h, sessionID)
}

func (h *Hub) leave(sessionID string, c *client) {
	h.mutex.RLock()
	r, ok := h.rooms[sessionID]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	r.mutex.Lock()
	current, exists := r.clients[c.userID]
	if exists && current == c {
		close(c.send)
		delete(r.clients, c.userID)
	}
	remaining := len(r.clients)
	r.mutex.Unlock()

	if !exists || current != c {
		return
	}
	h.log.Info().Str("session", sessionID).Str("user", c.userID).Int("remaining", remaining).Msg("👋 Client left session")
	h.Broadcast(sessionID, Message{Type: MsgUserLeft, SessionID: sessionID, UserID: c.userID})
}

// Broadcast - 세션의 모든 클라이언트에게 전송
// 버퍼가 가득 찬 클라이언트는 연결 해제
func (h *Hub) Broadcast(sessionID string, message Message) {
	h.mutex.RLock()
	r, ok := h.rooms[sessionID]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.log.Error().Err(err).Msg("Error marshaling message")
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for userID, c := range r.clients {
		select {
		case c.send <- messageBytes:
		default:
			close(c.send)
			delete(r.clients, userID)
			h.log.Warn().Str("session", sessionID).Str("user", userID).Msg("⚠️ Dropping slow client")
		}
	}
}

// CloseRoom - 세션 종료 시 모든 연결 해제
func (h *Hub) CloseRoom(sessionID string) {
	h.mutex.Lock()
	r, ok := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mutex.Unlock()
	if !ok {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for userID, c := range r.clients {
		close(c.send)
		delete(r.clients, userID)
		h.log.Info().Str("session", sessionID).Str("user", userID).Msg("🔌 Disconnecting client from closed session")
	}
}

// 클라이언트로부터 메시지 읽기 (연결 종료 감지용)
func (c *client) readPump(h *Hub, sessionID string) {
	defer func() {
		h.leave(sessionID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		var message Message
		if err := c.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		h.log.Debug().Str("session", sessionID).Str("user", c.userID).Str("type", message.Type).Msg("ignoring client message")
	}
}

// 클라이언트로 메시지 쓰기
func (c *client) writePump(log zerolog.Logger) {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Warn().Err(err).Msg("WebSocket write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// hubSink - pipeline.Sink 를 세션 브로드캐스트로 변환
type hubSink struct {
	hub       *Hub
	sessionID string
}

func (s hubSink) Progress(state model.ProgressState) {
	s.hub.Broadcast(s.sessionID, Message{Type: MsgProgress, SessionID: s.sessionID, Progress: &state})
}

func (s hubSink) Results(items []model.ResultItem) {
	s.hub.Broadcast(s.sessionID, Message{Type: MsgResults, SessionID: s.sessionID, Results: items})
}

func (s hubSink) Failed(err error) {
	s.hub.Broadcast(s.sessionID, Message{Type: MsgError, SessionID: s.sessionID, Error: err.Error()})
}

func (s hubSink) Finished() {
	s.hub.Broadcast(s.sessionID, Message{Type: MsgFinished, SessionID: s.sessionID})
}

// Sink - 세션 이벤트를 구독자에게 전달하는 pipeline.Sink
func (h *Hub) Sink(sessionID string) pipeline.Sink {
	return hubSink{hub: h, sessionID: sessionID}
}
