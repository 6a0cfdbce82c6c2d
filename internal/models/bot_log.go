package models

import "time"

// BotLog is a single line of a bot's activity log.
type BotLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	BotName   string    `gorm:"index;not null" json:"bot_name"`
	Message   string    `gorm:"not null" json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
