package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	OrgID        uint   `gorm:"index;not null"`
	Role         string `gorm:"size:32;not null;default:member"`
	IsActive     bool   `gorm:"not null;default:true"`
	Status       string `gorm:"size:16;not null;default:offline"`
	CustomStatus string `gorm:"size:128"`
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"size:128"`
	Type           string `gorm:"size:16;not null;default:group"`
	OrgID          uint   `gorm:"index;not null"`
	CreatorID      uint   `gorm:"not null"`
	LastActivityAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ConversationParticipant struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"uniqueIndex:idx_part_conv_user;not null"`
	UserID         uint `gorm:"uniqueIndex:idx_part_conv_user;not null"`
	IsActive       bool `gorm:"not null;default:true"`
	LastReadMsgID  uint
	JoinedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Message struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"index:idx_msg_conv_id;not null"`
	SenderID       uint   `gorm:"index;not null"`
	Content        string `gorm:"type:text;not null"`
	Type           string `gorm:"size:16;not null;default:direct"`
	Priority       string `gorm:"size:16;not null;default:normal"`
	ReplyToID      uint
	Status         string `gorm:"size:16;not null;default:sent"`
	IsEncrypted    bool   `gorm:"not null;default:false"`
	EncryptionIV   string `gorm:"size:64"`
	EncryptionTag  string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type MessageReaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:idx_react_msg_user;not null"`
	UserID    uint   `gorm:"uniqueIndex:idx_react_msg_user;not null"`
	Reaction  string `gorm:"size:32;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Poll struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"index;not null"`
	CreatorID      uint   `gorm:"not null"`
	Question       string `gorm:"size:512;not null"`
	Options        string `gorm:"type:text;not null"` // JSON 序列化的选项列表
	AllowMultiple  bool   `gorm:"not null;default:false"`
	IsAnonymous    bool   `gorm:"not null;default:false"`
	Status         string `gorm:"size:16;not null;default:active"`
	ExpiresAt      *time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type PollVote struct {
	ID        uint   `gorm:"primaryKey"`
	PollID    uint   `gorm:"uniqueIndex:idx_vote_poll_user;not null"`
	UserID    uint   `gorm:"uniqueIndex:idx_vote_poll_user;not null"`
	OptionIDs string `gorm:"size:512;not null"` // JSON 序列化的选项 ID 列表
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CallSession struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID uint   `gorm:"index;not null"`
	InitiatorID    uint   `gorm:"not null"`
	Type           string `gorm:"size:16;not null;default:audio"`
	Status         string `gorm:"size:16;not null;default:initiated"`
	EndReason      string `gorm:"size:64"`
	StartedAt      time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
