package ws

import (
	"encoding/base64"
	"strings"
	"time"

	"teamchat/internal/crypto"
	"teamchat/internal/models"
	"teamchat/internal/repo"

	"github.com/rs/zerolog/log"
)

var messageTypes = map[string]bool{
	"direct": true, "group": true, "broadcast": true,
	"poll": true, "file": true, "system": true,
}

var messagePriorities = map[string]bool{
	"low": true, "normal": true, "high": true, "urgent": true,
}

// MessageInfo 是对外广播的消息数据。
type MessageInfo struct {
	ID             uint      `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	SenderID       uint      `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Priority       string    `json:"priority"`
	ReplyToID      uint      `json:"reply_to_id,omitempty"`
	Status         string    `json:"status"`
	IsEncrypted    bool      `json:"is_encrypted,omitempty"`
	EncryptionIV   string    `json:"encryption_iv,omitempty"`
	EncryptionTag  string    `json:"encryption_tag,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReadReceipt 是 message:read_receipt 的广播载荷。
type ReadReceipt struct {
	MessageID      uint `json:"message_id"`
	ConversationID uint `json:"conversation_id"`
	ReaderID       uint `json:"reader_id"`
}

// ReactionEvent 是 message:reacted 的广播载荷。
type ReactionEvent struct {
	MessageID      uint   `json:"message_id"`
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	Reaction       string `json:"reaction"`
}

// Dispatcher 负责消息的校验、加密、持久化与广播。
type Dispatcher struct {
	repo    repo.Repository
	router  *Router
	insight *AsyncInsight
}

func NewDispatcher(r repo.Repository, router *Router, insight *AsyncInsight) *Dispatcher {
	return &Dispatcher{repo: r, router: router, insight: insight}
}

// Send 处理一条 message:send。持久化失败只向发送方报错，不产生任何广播。
// 发送方收到独立的 message:sent 确认，不回显消息本体。
func (d *Dispatcher) Send(s *Session, p SendPayload) (*MessageInfo, error) {
	content := p.Content
	if strings.TrimSpace(content) == "" {
		return nil, validation("message content is required")
	}
	roomName := ConversationRoom(p.ConversationID)
	if !d.router.InRoom(s.ID, roomName) {
		return nil, accessDenied("join the conversation before sending")
	}
	// 参与资格以外部登记为准，每次发送都重新核验。
	if _, err := d.repo.FindParticipant(p.ConversationID, s.UserID); err != nil {
		if err == repo.ErrNotFound {
			return nil, accessDenied("not a participant of this conversation")
		}
		return nil, internalError("participant lookup failed")
	}

	msgType := p.Type
	if !messageTypes[msgType] {
		msgType = "direct"
	}
	priority := p.Priority
	if !messagePriorities[priority] {
		priority = "normal"
	}

	msg := &models.Message{
		ConversationID: p.ConversationID,
		SenderID:       s.UserID,
		Type:           msgType,
		Priority:       priority,
		ReplyToID:      p.ReplyToID,
		Status:         "sent",
	}
	if p.IsEncrypted {
		key := s.Key
		if p.EncryptionKey != "" {
			k, err := crypto.DecodeKey(p.EncryptionKey)
			if err != nil {
				return nil, NewError(CodeEncryptionFailed, "invalid encryption key")
			}
			key = k
		}
		env, err := crypto.Encrypt([]byte(content), key)
		if err != nil {
			return nil, NewError(CodeEncryptionFailed, "could not encrypt message")
		}
		msg.Content = base64.StdEncoding.EncodeToString(env.Ciphertext)
		msg.EncryptionIV = base64.StdEncoding.EncodeToString(env.IV)
		msg.EncryptionTag = base64.StdEncoding.EncodeToString(env.Tag)
		msg.IsEncrypted = true
	} else {
		msg.Content = content
	}

	if err := d.repo.CreateMessage(msg); err != nil {
		log.Error().Err(err).Uint("conversation_id", p.ConversationID).Uint("sender_id", s.UserID).Msg("persist message")
		return nil, sendFailed("could not persist message")
	}
	// 入库即视为送达。
	msg.Status = "delivered"
	if err := d.repo.UpdateMessageStatus(msg.ID, "delivered"); err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("mark delivered")
	}
	if err := d.repo.UpdateConversationActivity(p.ConversationID, time.Now()); err != nil {
		log.Warn().Err(err).Uint("conversation_id", p.ConversationID).Msg("bump conversation activity")
	}

	info := MessageInfo{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     s.Username,
		Content:        msg.Content,
		Type:           msg.Type,
		Priority:       msg.Priority,
		ReplyToID:      msg.ReplyToID,
		Status:         msg.Status,
		IsEncrypted:    msg.IsEncrypted,
		EncryptionIV:   msg.EncryptionIV,
		EncryptionTag:  msg.EncryptionTag,
		CreatedAt:      msg.CreatedAt,
	}
	d.router.Broadcast(roomName, EvNewMessage, info, s.ID)
	s.Send(EvMessageSent, info)
	d.insight.Dispatch(info)
	return &info, nil
}

// MarkRead 更新消息状态、调用方的已读指针，并向房间广播已读回执。
// 消息归属以库里的行为准，client 报的 conversation_id 对不上就拒绝。
func (d *Dispatcher) MarkRead(s *Session, p ReadPayload) error {
	if p.MessageID == 0 || p.ConversationID == 0 {
		return validation("message_id and conversation_id are required")
	}
	msg, err := d.repo.FindMessage(p.MessageID)
	if err != nil {
		if err == repo.ErrNotFound {
			return notFound("message not found")
		}
		return internalError("message lookup failed")
	}
	if msg.ConversationID != p.ConversationID {
		return validation("message does not belong to this conversation")
	}
	if !d.router.InRoom(s.ID, ConversationRoom(p.ConversationID)) {
		return accessDenied("not in this conversation")
	}
	if err := d.repo.UpdateMessageStatus(p.MessageID, "read"); err != nil {
		log.Error().Err(err).Uint("message_id", p.MessageID).Msg("mark read")
		return sendFailed("could not mark message read")
	}
	if err := d.repo.UpdateLastRead(p.ConversationID, s.UserID, p.MessageID); err != nil {
		log.Warn().Err(err).Uint("message_id", p.MessageID).Uint("user_id", s.UserID).Msg("update last read")
	}
	d.router.Broadcast(ConversationRoom(p.ConversationID), EvMessageReadAck,
		ReadReceipt{MessageID: p.MessageID, ConversationID: p.ConversationID, ReaderID: s.UserID}, "")
	return nil
}

// React 对消息表态，同一用户重复表态覆盖旧值。
func (d *Dispatcher) React(s *Session, p ReactPayload) error {
	if p.MessageID == 0 || strings.TrimSpace(p.Reaction) == "" {
		return validation("message_id and reaction are required")
	}
	msg, err := d.repo.FindMessage(p.MessageID)
	if err != nil {
		if err == repo.ErrNotFound {
			return notFound("message not found")
		}
		return internalError("message lookup failed")
	}
	roomName := ConversationRoom(msg.ConversationID)
	if !d.router.InRoom(s.ID, roomName) {
		return accessDenied("not in this conversation")
	}
	if err := d.repo.SaveReaction(&models.MessageReaction{MessageID: p.MessageID, UserID: s.UserID, Reaction: p.Reaction}); err != nil {
		log.Error().Err(err).Uint("message_id", p.MessageID).Msg("save reaction")
		return sendFailed("could not save reaction")
	}
	d.router.Broadcast(roomName, EvMessageReacted,
		ReactionEvent{MessageID: p.MessageID, ConversationID: msg.ConversationID, UserID: s.UserID, Reaction: p.Reaction}, "")
	return nil
}
