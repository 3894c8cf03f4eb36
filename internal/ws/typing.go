package ws

import (
	"sync"
	"time"
)

type typingKey struct {
	ConversationID uint
	UserID         uint
}

type typingEntry struct {
	username  string
	startedAt time.Time
	deadline  time.Time
	timer     *time.Timer
}

// TypingEvent 是 typing:started / typing:stopped 的广播载荷。
type TypingEvent struct {
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	Username       string `json:"username"`
}

// TypingService 维护 (conversation, user) 维度的输入状态机：
// idle → typing → idle。start 只在 idle→typing 边沿广播一次，
// 后续 start 仅刷新 TTL；stop（显式、TTL 到期或断连清理）恰好广播一次。
type TypingService struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	ttl     time.Duration
	router  Broadcaster
}

func NewTypingService(ttl time.Duration, b Broadcaster) *TypingService {
	return &TypingService{
		entries: make(map[typingKey]*typingEntry),
		ttl:     ttl,
		router:  b,
	}
}

// Start 进入或刷新 typing 状态。
func (t *TypingService) Start(conversationID, userID uint, username string) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		e.deadline = time.Now().Add(t.ttl)
		e.timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	now := time.Now()
	e := &typingEntry{username: username, startedAt: now, deadline: now.Add(t.ttl)}
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(key, e) })
	t.entries[key] = e
	t.mu.Unlock()

	t.router.Broadcast(ConversationRoom(conversationID), EvTypingStarted,
		TypingEvent{ConversationID: conversationID, UserID: userID, Username: username}, "")
}

// Stop 显式结束 typing 状态，对 idle 状态调用是无害的。
func (t *TypingService) Stop(conversationID, userID uint) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(t.entries, key)
	username := e.username
	t.mu.Unlock()

	t.router.Broadcast(ConversationRoom(conversationID), EvTypingStopped,
		TypingEvent{ConversationID: conversationID, UserID: userID, Username: username}, "")
}

// expire 是 TTL 计时器的回调。entry 指针比对保证取消后的计时器
// 即使触发也不会重复广播；deadline 复核兜住回调触发后才到达的续期，
// 这种情况下重新挂表而不是误发 stopped。
func (t *TypingService) expire(key typingKey, e *typingEntry) {
	t.mu.Lock()
	cur, ok := t.entries[key]
	if !ok || cur != e {
		t.mu.Unlock()
		return
	}
	if remain := time.Until(e.deadline); remain > 0 {
		e.timer.Reset(remain)
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	username := e.username
	t.mu.Unlock()

	t.router.Broadcast(ConversationRoom(key.ConversationID), EvTypingStopped,
		TypingEvent{ConversationID: key.ConversationID, UserID: key.UserID, Username: username}, "")
}

// PurgeUser 结束该用户全部会话里的 typing 状态，每个恰好广播一次 stopped。
func (t *TypingService) PurgeUser(userID uint) {
	t.mu.Lock()
	var stopped []typingKey
	names := make(map[typingKey]string)
	for key, e := range t.entries {
		if key.UserID != userID {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
		stopped = append(stopped, key)
		names[key] = e.username
	}
	t.mu.Unlock()

	for _, key := range stopped {
		t.router.Broadcast(ConversationRoom(key.ConversationID), EvTypingStopped,
			TypingEvent{ConversationID: key.ConversationID, UserID: key.UserID, Username: names[key]}, "")
	}
}

// Typing 查询某 (conversation, user) 是否处于 typing 状态。
func (t *TypingService) Typing(conversationID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{conversationID, userID}]
	return ok
}
