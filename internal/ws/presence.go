package ws

import (
	"sync"
	"time"

	"teamchat/internal/repo"

	"github.com/rs/zerolog/log"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// PresenceRecord 是某个用户的在线状态快照。
type PresenceRecord struct {
	UserID       uint      `json:"user_id"`
	Username     string    `json:"username"`
	Status       string    `json:"status"`
	CustomStatus string    `json:"custom_status,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

type presenceEntry struct {
	record      PresenceRecord
	lastChange  time.Time
	lastPersist time.Time
}

// PresenceStore 跟踪用户在线状态并向其组织房间广播变化。
// 相同状态在去抖窗口内重复上报只刷新 lastSeen，不重复广播。
type PresenceStore struct {
	mu       sync.Mutex
	entries  map[uint]*presenceEntry
	repo     repo.Repository
	router   Broadcaster
	debounce time.Duration
	now      func() time.Time
}

func NewPresenceStore(r repo.Repository, b Broadcaster) *PresenceStore {
	return &PresenceStore{
		entries:  make(map[uint]*presenceEntry),
		repo:     r,
		router:   b,
		debounce: time.Second,
		now:      time.Now,
	}
}

// SetStatus 更新用户状态，持久化并广播到 org 房间。
func (p *PresenceStore) SetStatus(userID, orgID uint, username, status, customStatus string) {
	switch status {
	case StatusOnline, StatusAway, StatusOffline:
	default:
		status = StatusOnline
	}
	now := p.now()

	p.mu.Lock()
	e := p.entries[userID]
	if e == nil {
		e = &presenceEntry{}
		p.entries[userID] = e
	}
	unchanged := e.record.Status == status && e.record.CustomStatus == customStatus
	skipBroadcast := unchanged && now.Sub(e.lastChange) < p.debounce
	if !unchanged {
		e.lastChange = now
	}
	e.record = PresenceRecord{
		UserID:       userID,
		Username:     username,
		Status:       status,
		CustomStatus: customStatus,
		LastSeen:     now,
	}
	rec := e.record
	p.mu.Unlock()

	if err := p.repo.UpdateUserPresence(userID, status, customStatus, now); err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("persist presence")
	}
	if skipBroadcast {
		return
	}
	p.router.Broadcast(OrgRoom(orgID), EvUserStatusOut, rec, "")
}

// GetStatus 返回用户的当前状态，没有记录时视为 offline。
func (p *PresenceStore) GetStatus(userID uint) PresenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[userID]; ok {
		return e.record
	}
	return PresenceRecord{UserID: userID, Status: StatusOffline}
}

// Forget 丢弃用户的内存记录，随断连清理调用。
func (p *PresenceStore) Forget(userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, userID)
}
