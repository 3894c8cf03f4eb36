package ws

import (
	"encoding/json"
	"fmt"
	"sync"

	"teamchat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// 房间命名规则。user 房间每用户恒有一个，conversation 房间需通过参与者校验。
func UserRoom(userID uint) string         { return fmt.Sprintf("user:%d", userID) }
func OrgRoom(orgID uint) string           { return fmt.Sprintf("org:%d", orgID) }
func RoleRoom(role string) string         { return "role:" + role }
func ConversationRoom(convID uint) string { return fmt.Sprintf("conversation:%d", convID) }

// parseConversationRoom 从房间名解析会话 ID，非 conversation 房间返回 0。
func parseConversationRoom(name string) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(name, "conversation:%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// Broadcaster 是各组件对外广播的最小依赖，便于测试替换。
type Broadcaster interface {
	Broadcast(room, event string, payload interface{}, excludeSessionID string)
}

// ParticipationChecker 在加入 conversation 房间前校验参与资格。
type ParticipationChecker func(conversationID, userID uint) (bool, error)

type room struct {
	mu      sync.RWMutex
	members map[string]*Session
}

// Router 维护会话与房间的双向索引。房间懒创建，锁粒度到单个房间，
// 互不相关的房间之间的广播不会互相阻塞。
type Router struct {
	mu    sync.RWMutex
	rooms map[string]*room

	smu      sync.Mutex
	sessions map[string]map[string]struct{} // sessionID -> 房间名集合

	checkParticipant ParticipationChecker
}

func NewRouter(check ParticipationChecker) *Router {
	return &Router{
		rooms:            make(map[string]*room),
		sessions:         make(map[string]map[string]struct{}),
		checkParticipant: check,
	}
}

func (r *Router) getRoom(name string) *room {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm = r.rooms[name]
	if rm != nil {
		return rm
	}
	rm = &room{members: make(map[string]*Session)}
	r.rooms[name] = rm
	return rm
}

// Join 把会话加入房间，重复加入是幂等的。
func (r *Router) Join(s *Session, name string) {
	rm := r.getRoom(name)
	rm.mu.Lock()
	rm.members[s.ID] = s
	rm.mu.Unlock()

	r.smu.Lock()
	set := r.sessions[s.ID]
	if set == nil {
		set = make(map[string]struct{})
		r.sessions[s.ID] = set
	}
	set[name] = struct{}{}
	r.smu.Unlock()
}

// JoinConversation 先做参与者校验再入房，校验失败时不做任何变更。
func (r *Router) JoinConversation(s *Session, conversationID uint) error {
	ok, err := r.checkParticipant(conversationID, s.UserID)
	if err != nil {
		return internalError("participation check failed")
	}
	if !ok {
		return accessDenied("not a participant of this conversation")
	}
	r.Join(s, ConversationRoom(conversationID))
	return nil
}

// Leave 把会话移出房间，对不在房间内的会话调用是无害的。
func (r *Router) Leave(s *Session, name string) {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm != nil {
		rm.mu.Lock()
		delete(rm.members, s.ID)
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			r.dropIfEmpty(name)
		}
	}

	r.smu.Lock()
	if set := r.sessions[s.ID]; set != nil {
		delete(set, name)
		if len(set) == 0 {
			delete(r.sessions, s.ID)
		}
	}
	r.smu.Unlock()
}

func (r *Router) dropIfEmpty(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.rooms[name]
	if rm == nil {
		return
	}
	rm.mu.RLock()
	empty := len(rm.members) == 0
	rm.mu.RUnlock()
	if empty {
		delete(r.rooms, name)
	}
}

// LeaveAll 移除会话的全部房间成员关系，断连清理路径调用。
func (r *Router) LeaveAll(s *Session) {
	r.smu.Lock()
	set := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.smu.Unlock()
	for name := range set {
		r.mu.RLock()
		rm := r.rooms[name]
		r.mu.RUnlock()
		if rm == nil {
			continue
		}
		rm.mu.Lock()
		delete(rm.members, s.ID)
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			r.dropIfEmpty(name)
		}
	}
}

// InRoom 查询会话是否在房间内。
func (r *Router) InRoom(sessionID, name string) bool {
	r.smu.Lock()
	defer r.smu.Unlock()
	set := r.sessions[sessionID]
	if set == nil {
		return false
	}
	_, ok := set[name]
	return ok
}

// Rooms 返回会话当前所在的全部房间名。
func (r *Router) Rooms(sessionID string) []string {
	r.smu.Lock()
	defer r.smu.Unlock()
	set := r.sessions[sessionID]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// Online 返回房间当前成员数。
func (r *Router) Online(name string) int {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Broadcast 把事件投递给广播时刻在房间内的全部会话。
// 单一发布方触发的一串广播按发布顺序进入每个成员的发送队列。
func (r *Router) Broadcast(name, event string, payload interface{}, excludeSessionID string) {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm == nil {
		return
	}
	b, err := json.Marshal(Outbound{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Str("room", name).Msg("marshal broadcast")
		return
	}
	metrics.WsBroadcastsTotal.Inc()
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for id, s := range rm.members {
		if id == excludeSessionID {
			continue
		}
		s.push(b)
	}
}
