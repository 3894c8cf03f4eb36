package ws

import (
	"sync"
	"time"

	"teamchat/internal/models"
	"teamchat/internal/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CallInfo 是对外广播的通话数据。信令载荷是不透明 blob，从不解析。
type CallInfo struct {
	ID             string `json:"id"`
	ConversationID uint   `json:"conversation_id"`
	InitiatorID    uint   `json:"initiator_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	ParticipantIDs []uint `json:"participant_ids"`
	EndReason      string `json:"end_reason,omitempty"`
}

// SignalEvent 是 call:signal 的转发载荷，signal 原样透传。
type SignalEvent struct {
	CallID     string      `json:"call_id"`
	FromUserID uint        `json:"from_user_id"`
	Signal     interface{} `json:"signal"`
}

type callState struct {
	mu             sync.Mutex
	id             string
	conversationID uint
	initiatorID    uint
	ctype          string
	status         string
	participants   []uint
}

// CallRelay 维护通话会话并在参与方之间转发信令。
type CallRelay struct {
	mu     sync.RWMutex
	calls  map[string]*callState
	repo   repo.Repository
	router *Router
}

func NewCallRelay(r repo.Repository, router *Router) *CallRelay {
	return &CallRelay{calls: make(map[string]*callState), repo: r, router: router}
}

// Start 创建通话会话并向会话房间广播 call:started。
func (c *CallRelay) Start(s *Session, p CallStartPayload) (*CallInfo, error) {
	if p.ConversationID == 0 {
		return nil, validation("conversation_id is required")
	}
	if !c.router.InRoom(s.ID, ConversationRoom(p.ConversationID)) {
		return nil, accessDenied("not in this conversation")
	}
	ctype := p.CallType
	if ctype != "audio" && ctype != "video" {
		ctype = "audio"
	}
	id := uuid.NewString()
	row := &models.CallSession{
		ID:             id,
		ConversationID: p.ConversationID,
		InitiatorID:    s.UserID,
		Type:           ctype,
		Status:         "initiated",
		StartedAt:      time.Now(),
	}
	if err := c.repo.CreateCallSession(row); err != nil {
		log.Error().Err(err).Uint("conversation_id", p.ConversationID).Msg("create call session")
		return nil, sendFailed("could not start call")
	}

	st := &callState{
		id:             id,
		conversationID: p.ConversationID,
		initiatorID:    s.UserID,
		ctype:          ctype,
		status:         "initiated",
		participants:   append([]uint{s.UserID}, p.ParticipantIDs...),
	}
	info := st.infoLocked()
	c.mu.Lock()
	c.calls[id] = st
	c.mu.Unlock()

	log.Info().Str("call_id", id).Uint("initiator_id", s.UserID).Str("type", ctype).Msg("call started")
	c.router.Broadcast(ConversationRoom(p.ConversationID), EvCallStarted, info, "")
	return &info, nil
}

// Signal 把不透明信令原样转发给目标用户的全部会话。
func (c *CallRelay) Signal(s *Session, p CallSignalPayload) error {
	if p.CallID == "" || p.TargetUserID == 0 {
		return validation("call_id and target_user_id are required")
	}
	st := c.get(p.CallID)
	if st == nil {
		// 结束的通话已从内存退场，以库里的行判定是已结束还是不存在。
		if row, err := c.repo.FindCallSession(p.CallID); err == nil && row.Status == "ended" {
			return validation("call already ended")
		}
		return notFound("call not found")
	}
	st.mu.Lock()
	if st.status == "ended" {
		st.mu.Unlock()
		return validation("call already ended")
	}
	st.status = "active"
	st.mu.Unlock()

	c.router.Broadcast(UserRoom(p.TargetUserID), EvCallSignalOut,
		SignalEvent{CallID: p.CallID, FromUserID: s.UserID, Signal: p.Signal}, "")
	return nil
}

// End 结束通话并广播原因。重复结束是无操作，结束后内存态即退场。
func (c *CallRelay) End(s *Session, p CallEndPayload) error {
	if p.CallID == "" {
		return validation("call_id is required")
	}
	st := c.get(p.CallID)
	if st == nil {
		row, err := c.repo.FindCallSession(p.CallID)
		if err != nil {
			return notFound("call not found")
		}
		if row.Status != "ended" {
			// 进程重启后内存态丢失，只落库不广播。
			if perr := c.repo.EndCallSession(p.CallID, p.Reason, time.Now()); perr != nil {
				log.Error().Err(perr).Str("call_id", p.CallID).Msg("end call session")
			}
		}
		return nil
	}

	st.mu.Lock()
	if st.status == "ended" {
		st.mu.Unlock()
		return nil
	}
	st.status = "ended"
	reason := p.Reason
	if reason == "" {
		reason = "ended"
	}
	info := st.infoLocked()
	info.EndReason = reason
	convID := st.conversationID
	st.mu.Unlock()

	if err := c.repo.EndCallSession(p.CallID, reason, time.Now()); err != nil {
		log.Error().Err(err).Str("call_id", p.CallID).Msg("end call session")
	}
	log.Info().Str("call_id", p.CallID).Uint("user_id", s.UserID).Str("reason", reason).Msg("call ended")
	c.router.Broadcast(ConversationRoom(convID), EvCallEnded, info, "")

	c.mu.Lock()
	delete(c.calls, p.CallID)
	c.mu.Unlock()
	return nil
}

func (c *CallRelay) get(id string) *callState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls[id]
}

func (st *callState) infoLocked() CallInfo {
	return CallInfo{
		ID:             st.id,
		ConversationID: st.conversationID,
		InitiatorID:    st.initiatorID,
		Type:           st.ctype,
		Status:         st.status,
		ParticipantIDs: append([]uint(nil), st.participants...),
	}
}
