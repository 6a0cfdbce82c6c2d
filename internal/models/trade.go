package models

import "gorm.io/gorm"

// Trade represents an order acknowledged by an exchange on behalf of a bot.
type Trade struct {
	gorm.Model
	BotName      string  `gorm:"index" json:"bot_name"`
	Exchange     string  `json:"exchange"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"` // "buy" or "sell"
	Quantity     float64 `json:"quantity"`
	OrderID      string  `json:"order_id"`
	Closing      bool    `json:"closing"` // synthetic order closing the previous position
	IsSimulation bool    `json:"is_simulation"`
	Timestamp    int64   `json:"timestamp"`
}
