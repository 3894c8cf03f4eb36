package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Session 是一条已认证的活跃连接。一个用户可同时持有多个 Session（多端）。
type Session struct {
	ID        string
	UserID    uint
	OrgID     uint
	Role      string
	Username  string
	Key       []byte
	CreatedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, userID, orgID uint, role, username string, key []byte, conn *websocket.Conn, sendBuffer int) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		Username:  username,
		Key:       key,
		CreatedAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Send 序列化事件并投递到会话的发送队列，绝不阻塞广播方。
// 队列打满说明消费端已经跟不上，直接关闭该连接。
func (s *Session) Send(event string, payload interface{}) bool {
	b, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal outbound")
		return false
	}
	return s.push(b)
}

func (s *Session) push(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		log.Warn().Str("session_id", s.ID).Msg("send buffer full, closing slow session")
		s.Close()
		return false
	}
}

// SendError 把类型化错误作为 error 事件发回本会话。
func (s *Session) SendError(e *Error) {
	s.Send(EvError, e)
}

// Close 关闭底层连接并标记会话结束，可安全重复调用。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Done 在会话关闭后被触发。
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readPump(idleTimeout time.Duration, onEvent func(*Session, []byte)) {
	defer s.Close()
	s.conn.SetReadLimit(1 << 20) // 1MB
	_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		onEvent(s, data)
	}
}

func (s *Session) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
