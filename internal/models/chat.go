package models

import "time"

// Chat is a group conversation moderated by its creator.
type Chat struct {
	BaseModel

	Name        string       `gorm:"type:varchar(255);not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	ModeratorID string       `gorm:"type:varchar(36);index;not null" json:"moderatorId"`
	Members     []ChatMember `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"-"`
}

// ChatMember links a user to a chat. Invited members have not accepted yet and
// receive no message fan-out.
type ChatMember struct {
	ChatID    string    `gorm:"primaryKey;type:varchar(36)" json:"chatId"`
	UserID    string    `gorm:"primaryKey;type:varchar(36);index" json:"userId"`
	HasRead   bool      `gorm:"not null;default:true" json:"hasRead"`
	Invited   bool      `gorm:"not null;default:false" json:"invited"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is either posted to a chat or sent directly to one receiver.
type Message struct {
	BaseModel

	SenderID   string  `gorm:"type:varchar(36);index;not null" json:"senderId"`
	ChatID     *string `gorm:"type:varchar(36);index" json:"chatId"`
	ReceiverID *string `gorm:"type:varchar(36);index" json:"receiverId"`
	Content    string  `gorm:"type:text;not null" json:"content"`
	IsRead     bool    `gorm:"not null;default:false" json:"isRead"`
}
