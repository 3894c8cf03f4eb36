package ws

import (
	"encoding/json"
	"time"

	"teamchat/internal/auth"
	"teamchat/internal/config"
	"teamchat/internal/crypto"
	"teamchat/internal/limiter"
	"teamchat/internal/metrics"
	"teamchat/internal/models"
	"teamchat/internal/repo"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type handlerFunc func(s *Session, data json.RawMessage) error

// Manager 是实时核心的顶层编排：持有会话表、组装各组件、
// 负责握手认证与断连清理。事件分发表在启动时构建，未知事件一律拒绝。
type Manager struct {
	cfg      config.Config
	repo     repo.Repository
	Router   *Router
	Presence *PresenceStore
	Typing   *TypingService
	Polls    *PollEngine
	Msgs     *Dispatcher
	Calls    *CallRelay
	limiter  *limiter.SessionLimiter
	registry *registry
	handlers map[string]handlerFunc
}

func NewManager(cfg config.Config, r repo.Repository, insight *AsyncInsight) *Manager {
	router := NewRouter(func(conversationID, userID uint) (bool, error) {
		if _, err := r.FindParticipant(conversationID, userID); err != nil {
			if err == repo.ErrNotFound {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	m := &Manager{
		cfg:      cfg,
		repo:     r,
		Router:   router,
		Presence: NewPresenceStore(r, router),
		Typing:   NewTypingService(cfg.TypingTTL, router),
		Polls:    NewPollEngine(r, router),
		Msgs:     NewDispatcher(r, router, insight),
		Calls:    NewCallRelay(r, router),
		limiter:  limiter.New(cfg.EventRateWindow, cfg.EventRateCeiling),
		registry: newRegistry(),
	}
	m.handlers = map[string]handlerFunc{
		EvConversationJoin:  m.onConversationJoin,
		EvConversationLeave: m.onConversationLeave,
		EvMessageSend:       m.onMessageSend,
		EvMessageRead:       m.onMessageRead,
		EvMessageReact:      m.onMessageReact,
		EvTypingStart:       m.onTypingStart,
		EvTypingStop:        m.onTypingStop,
		EvPollCreate:        m.onPollCreate,
		EvPollVote:          m.onPollVote,
		EvCallStart:         m.onCallStart,
		EvCallSignal:        m.onCallSignal,
		EvCallEnd:           m.onCallEnd,
		EvUserStatus:        m.onUserStatus,
	}
	return m
}

// Authenticate 校验握手携带的签名 token 并加载用户，拒绝停用账号。
// 在任何房间状态被创建之前调用，失败即拒绝连接。
func (m *Manager) Authenticate(tokenStr string) (*models.User, *Error) {
	claims, err := auth.ParseAccessToken(tokenStr, m.cfg.JWTSecret)
	if err != nil {
		return nil, NewError(CodeAuthFailed, "invalid or expired token")
	}
	user, err := m.repo.FindUser(claims.UserID)
	if err != nil {
		return nil, NewError(CodeAuthFailed, "unknown user")
	}
	if !user.IsActive {
		return nil, NewError(CodeAuthFailed, "user is inactive")
	}
	return user, nil
}

// Register 为已认证用户建立会话：生成会话密钥、加入默认房间与
// 全部活跃会话房间。任一步失败都会完整回滚，不留下半注册状态。
func (m *Manager) Register(user *models.User, conn *websocket.Conn) (*Session, *Error) {
	key, err := crypto.NewKey()
	if err != nil {
		return nil, internalError("could not generate session key")
	}
	s := newSession(uuid.NewString(), user.ID, user.OrgID, user.Role, user.Username, key, conn, m.cfg.SendBufferSize)

	convIDs, err := m.repo.ListUserConversationIDs(user.ID)
	if err != nil {
		return nil, internalError("could not load conversations")
	}

	m.registry.add(s)
	m.Router.Join(s, UserRoom(user.ID))
	m.Router.Join(s, OrgRoom(user.OrgID))
	m.Router.Join(s, RoleRoom(user.Role))
	for _, id := range convIDs {
		m.Router.Join(s, ConversationRoom(id))
	}
	metrics.WsSessions.Inc()

	m.Presence.SetStatus(user.ID, user.OrgID, user.Username, StatusOnline, "")

	s.Send(EvConnected, map[string]interface{}{
		"session_id":     s.ID,
		"user_id":        user.ID,
		"encryption_key": crypto.EncodeKey(key),
	})
	log.Info().Str("session_id", s.ID).Uint("user_id", user.ID).Msg("session registered")
	return s, nil
}

// Disconnect 释放会话的全部状态：房间成员关系、typing、限流计数，
// 并在用户最后一条连接断开时广播离线。
func (m *Manager) Disconnect(s *Session) {
	s.Close()
	m.registry.remove(s.ID)
	metrics.WsSessions.Dec()

	// 尽力通知各会话房间该用户已离开。
	for _, name := range m.Router.Rooms(s.ID) {
		var convID uint
		if n, _ := parseConversationRoom(name); n > 0 {
			convID = n
			m.Router.Broadcast(name, EvUserLeft, map[string]interface{}{
				"conversation_id": convID,
				"user_id":         s.UserID,
				"username":        s.Username,
			}, s.ID)
		}
	}
	m.Router.LeaveAll(s)
	m.Typing.PurgeUser(s.UserID)
	m.limiter.Forget(s.ID)

	if m.registry.countForUser(s.UserID) == 0 {
		m.Presence.SetStatus(s.UserID, s.OrgID, s.Username, StatusOffline, "")
		m.Presence.Forget(s.UserID)
	}
	log.Info().Str("session_id", s.ID).Uint("user_id", s.UserID).Msg("session disconnected")
}

// HandleEvent 按到达顺序处理单个会话的入站事件。
// 单个 handler 的 panic 被兜住并转成 INTERNAL 错误，不影响其他会话。
func (m *Manager) HandleEvent(s *Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session_id", s.ID).Msg("event handler panic")
			m.sendError(s, internalError("internal error"))
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		m.sendError(s, validation("malformed event envelope"))
		return
	}
	if !m.limiter.Allow(s.ID) {
		metrics.WsRateLimitedTotal.Inc()
		m.sendError(s, NewError(CodeRateLimited, "event rate limit exceeded"))
		return
	}
	h, ok := m.handlers[env.Event]
	if !ok {
		m.sendError(s, validation("unknown event: "+env.Event))
		return
	}
	metrics.WsEventsTotal.WithLabelValues(env.Event).Inc()
	if err := h(s, env.Data); err != nil {
		if we, ok := err.(*Error); ok {
			m.sendError(s, we)
			return
		}
		m.sendError(s, internalError("internal error"))
	}
}

func (m *Manager) sendError(s *Session, e *Error) {
	metrics.WsErrorsTotal.WithLabelValues(e.Code).Inc()
	s.SendError(e)
}

// Session 按 ID 查会话。
func (m *Manager) Session(id string) *Session { return m.registry.get(id) }

// Online 返回当前注册的会话总数。
func (m *Manager) Online() int { return m.registry.count() }

func (m *Manager) onConversationJoin(s *Session, data json.RawMessage) error {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	if err := m.Router.JoinConversation(s, p.ConversationID); err != nil {
		return err
	}
	m.Router.Broadcast(ConversationRoom(p.ConversationID), EvUserJoined, map[string]interface{}{
		"conversation_id": p.ConversationID,
		"user_id":         s.UserID,
		"username":        s.Username,
	}, s.ID)
	return nil
}

func (m *Manager) onConversationLeave(s *Session, data json.RawMessage) error {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	m.Router.Leave(s, ConversationRoom(p.ConversationID))
	m.Typing.Stop(p.ConversationID, s.UserID)
	m.Router.Broadcast(ConversationRoom(p.ConversationID), EvUserLeft, map[string]interface{}{
		"conversation_id": p.ConversationID,
		"user_id":         s.UserID,
		"username":        s.Username,
	}, s.ID)
	return nil
}

func (m *Manager) onMessageSend(s *Session, data json.RawMessage) error {
	var p SendPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	_, err := m.Msgs.Send(s, p)
	return err
}

func (m *Manager) onMessageRead(s *Session, data json.RawMessage) error {
	var p ReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	return m.Msgs.MarkRead(s, p)
}

func (m *Manager) onMessageReact(s *Session, data json.RawMessage) error {
	var p ReactPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	return m.Msgs.React(s, p)
}

func (m *Manager) onTypingStart(s *Session, data json.RawMessage) error {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	if !m.Router.InRoom(s.ID, ConversationRoom(p.ConversationID)) {
		return accessDenied("not in this conversation")
	}
	m.Typing.Start(p.ConversationID, s.UserID, s.Username)
	return nil
}

func (m *Manager) onTypingStop(s *Session, data json.RawMessage) error {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	m.Typing.Stop(p.ConversationID, s.UserID)
	return nil
}

func (m *Manager) onPollCreate(s *Session, data json.RawMessage) error {
	var p PollCreatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == 0 {
		return validation("conversation_id is required")
	}
	if !m.Router.InRoom(s.ID, ConversationRoom(p.ConversationID)) {
		return accessDenied("not in this conversation")
	}
	var expiresAt *time.Time
	if p.ExpiresInSec > 0 {
		t := time.Now().Add(time.Duration(p.ExpiresInSec) * time.Second)
		expiresAt = &t
	}
	_, err := m.Polls.Create(p.ConversationID, s.UserID, p.Question, p.Options, p.AllowMultiple, p.IsAnonymous, expiresAt)
	return err
}

func (m *Manager) onPollVote(s *Session, data json.RawMessage) error {
	var p PollVotePayload
	if err := json.Unmarshal(data, &p); err != nil || p.PollID == 0 {
		return validation("poll_id is required")
	}
	// 投票人必须在投票所属的会话房间里，和创建投票同一道门槛。
	info, err := m.Polls.Get(p.PollID)
	if err != nil {
		return err
	}
	if !m.Router.InRoom(s.ID, ConversationRoom(info.ConversationID)) {
		return accessDenied("not in this conversation")
	}
	_, err = m.Polls.Vote(p.PollID, s.UserID, p.OptionIDs)
	return err
}

func (m *Manager) onCallStart(s *Session, data json.RawMessage) error {
	var p CallStartPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	_, err := m.Calls.Start(s, p)
	return err
}

func (m *Manager) onCallSignal(s *Session, data json.RawMessage) error {
	var p CallSignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	return m.Calls.Signal(s, p)
}

func (m *Manager) onCallEnd(s *Session, data json.RawMessage) error {
	var p CallEndPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	return m.Calls.End(s, p)
}

func (m *Manager) onUserStatus(s *Session, data json.RawMessage) error {
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return validation("malformed payload")
	}
	status := p.Status
	if p.IsAway && status == "" {
		status = StatusAway
	}
	m.Presence.SetStatus(s.UserID, s.OrgID, s.Username, status, p.CustomStatus)
	return nil
}
