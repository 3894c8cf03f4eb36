package repo

import (
	"errors"
	"time"

	"teamchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository 基于 gorm 的 Repository 实现。
type GormRepository struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepository) FindParticipant(conversationID, userID uint) (*models.ConversationParticipant, error) {
	var p models.ConversationParticipant
	err := r.db.Where("conversation_id = ? AND user_id = ? AND is_active = ?", conversationID, userID, true).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *GormRepository) ListUserConversationIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ConversationParticipant{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormRepository) CreateMessage(msg *models.Message) error {
	return r.db.Create(msg).Error
}

func (r *GormRepository) FindMessage(id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (r *GormRepository) UpdateMessageStatus(messageID uint, status string) error {
	return r.db.Model(&models.Message{}).Where("id = ?", messageID).Update("status", status).Error
}

func (r *GormRepository) UpdateLastRead(conversationID, userID, messageID uint) error {
	return r.db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_msg_id", messageID).Error
}

func (r *GormRepository) UpdateConversationActivity(conversationID uint, at time.Time) error {
	return r.db.Model(&models.Conversation{}).Where("id = ?", conversationID).Update("last_activity_at", at).Error
}

// SaveReaction 按 (message, user) 去重，重复表态覆盖旧值。
func (r *GormRepository) SaveReaction(reaction *models.MessageReaction) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reaction", "updated_at"}),
	}).Create(reaction).Error
}

func (r *GormRepository) CreatePoll(p *models.Poll) error {
	return r.db.Create(p).Error
}

func (r *GormRepository) FindPoll(id uint) (*models.Poll, error) {
	var p models.Poll
	if err := r.db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SavePollVote 以 (poll, user) 为键 upsert，重复投票覆盖旧选项。
func (r *GormRepository) SavePollVote(v *models.PollVote) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"option_ids", "updated_at"}),
	}).Create(v).Error
}

func (r *GormRepository) EndPoll(pollID uint, at time.Time) error {
	return r.db.Model(&models.Poll{}).Where("id = ?", pollID).
		Updates(map[string]interface{}{"status": "ended", "ended_at": at}).Error
}

func (r *GormRepository) CreateCallSession(cs *models.CallSession) error {
	return r.db.Create(cs).Error
}

func (r *GormRepository) FindCallSession(id string) (*models.CallSession, error) {
	var cs models.CallSession
	if err := r.db.Where("id = ?", id).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cs, nil
}

func (r *GormRepository) EndCallSession(id, reason string, at time.Time) error {
	return r.db.Model(&models.CallSession{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": "ended", "end_reason": reason, "ended_at": at}).Error
}

func (r *GormRepository) UpdateUserPresence(userID uint, status, customStatus string, lastSeen time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"status": status, "custom_status": customStatus, "last_seen_at": lastSeen}).Error
}
