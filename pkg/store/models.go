package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type MessageModel struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	Sender   string    `gorm:"not null;index;index:idx_message_pair,priority:1"`
	Receiver string    `gorm:"not null;index;index:idx_message_pair,priority:2"`
	Content  string    `gorm:"type:text;not null"`
	SentAt   time.Time `gorm:"not null;index"`
}

type UserModel struct {
	Username     string         `gorm:"primaryKey"`
	Name         string         `gorm:"not null"`
	Email        string         `gorm:"uniqueIndex;not null"`
	PasswordHash string         `gorm:"not null"`
	PublicKey    string         `gorm:"type:text;not null"`
	PrivateKey   string         `gorm:"type:text;not null"`
	Contacts     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time
}
