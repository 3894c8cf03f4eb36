package ws

import "encoding/json"

// 客户端到服务端的事件名。未知事件名一律按 VALIDATION 错误拒绝。
const (
	EvConversationJoin  = "conversation:join"
	EvConversationLeave = "conversation:leave"
	EvMessageSend       = "message:send"
	EvMessageRead       = "message:read"
	EvMessageReact      = "message:react"
	EvTypingStart       = "typing:start"
	EvTypingStop        = "typing:stop"
	EvPollCreate        = "poll:create"
	EvPollVote          = "poll:vote"
	EvCallStart         = "call:start"
	EvCallSignal        = "call:signal"
	EvCallEnd           = "call:end"
	EvUserStatus        = "user:status"
)

// 服务端到客户端的事件名。
const (
	EvConnected      = "connection:established"
	EvNewMessage     = "conversation:new_message"
	EvMessageSent    = "message:sent"
	EvMessageReadAck = "message:read_receipt"
	EvMessageReacted = "message:reacted"
	EvTypingStarted  = "typing:started"
	EvTypingStopped  = "typing:stopped"
	EvPollCreated    = "poll:created"
	EvPollUpdated    = "poll:updated"
	EvPollEnded      = "poll:ended"
	EvCallStarted    = "call:started"
	EvCallSignalOut  = "call:signal"
	EvCallEnded      = "call:ended"
	EvUserStatusOut  = "user:status"
	EvUserJoined     = "conversation:user_joined"
	EvUserLeft       = "conversation:user_left"
	EvError          = "error"
)

// Envelope 是线上协议的统一外壳。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound 是服务端下发事件的统一外壳。
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type JoinPayload struct {
	ConversationID uint `json:"conversation_id"`
}

type SendPayload struct {
	ConversationID uint   `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	ReplyToID      uint   `json:"reply_to_id,omitempty"`
	IsEncrypted    bool   `json:"is_encrypted,omitempty"`
	EncryptionKey  string `json:"encryption_key,omitempty"`
}

type ReadPayload struct {
	MessageID      uint `json:"message_id"`
	ConversationID uint `json:"conversation_id"`
}

type ReactPayload struct {
	MessageID uint   `json:"message_id"`
	Reaction  string `json:"reaction"`
}

type TypingPayload struct {
	ConversationID uint `json:"conversation_id"`
}

type PollCreatePayload struct {
	ConversationID uint     `json:"conversation_id"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	AllowMultiple  bool     `json:"allow_multiple"`
	IsAnonymous    bool     `json:"is_anonymous"`
	ExpiresInSec   int      `json:"expires_in_seconds,omitempty"`
}

type PollVotePayload struct {
	PollID    uint  `json:"poll_id"`
	OptionIDs []int `json:"option_ids"`
}

type CallStartPayload struct {
	ConversationID uint   `json:"conversation_id"`
	CallType       string `json:"call_type"`
	ParticipantIDs []uint `json:"participant_ids"`
}

type CallSignalPayload struct {
	CallID       string          `json:"call_id"`
	TargetUserID uint            `json:"target_user_id"`
	Signal       json.RawMessage `json:"signal"`
}

type CallEndPayload struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type StatusPayload struct {
	Status       string `json:"status"`
	CustomStatus string `json:"custom_status"`
	IsAway       bool   `json:"is_away"`
}
