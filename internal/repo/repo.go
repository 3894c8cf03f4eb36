package repo

import (
	"errors"
	"time"

	"teamchat/internal/models"
)

// 持久层通用错误，调用方据此映射错误码。
var ErrNotFound = errors.New("record not found")

// Repository 是实时核心依赖的持久化窄接口，核心代码不直接触碰 gorm。
type Repository interface {
	FindUser(id uint) (*models.User, error)
	FindParticipant(conversationID, userID uint) (*models.ConversationParticipant, error)
	ListUserConversationIDs(userID uint) ([]uint, error)

	CreateMessage(msg *models.Message) error
	FindMessage(id uint) (*models.Message, error)
	UpdateMessageStatus(messageID uint, status string) error
	UpdateLastRead(conversationID, userID, messageID uint) error
	UpdateConversationActivity(conversationID uint, at time.Time) error
	SaveReaction(r *models.MessageReaction) error

	CreatePoll(p *models.Poll) error
	FindPoll(id uint) (*models.Poll, error)
	SavePollVote(v *models.PollVote) error
	EndPoll(pollID uint, at time.Time) error

	CreateCallSession(cs *models.CallSession) error
	FindCallSession(id string) (*models.CallSession, error)
	EndCallSession(id, reason string, at time.Time) error

	UpdateUserPresence(userID uint, status, customStatus string, lastSeen time.Time) error
}
