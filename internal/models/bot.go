package models

import "gorm.io/gorm"

// Position is a bot's current directional exposure.
type Position string

const (
	PositionNeutral Position = "neutral"
	PositionBuy     Position = "buy"
	PositionSell    Position = "sell"
)

// Action is the direction of a trade signal or order.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Valid reports whether a is buy or sell.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Opposite returns the action that closes a position opened with a.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Bot is a user's trading bot bound to one exchange account.
// Which credential columns are required depends on the exchange.
type Bot struct {
	gorm.Model
	Name      string   `gorm:"uniqueIndex;not null" json:"name"`
	Exchange  string   `gorm:"not null" json:"exchange"`
	Symbol    string   `gorm:"not null" json:"symbol"`
	Quantity  float64  `gorm:"not null" json:"quantity"`
	Position  Position `gorm:"default:neutral;not null" json:"position"`
	Paused    bool     `gorm:"default:false" json:"paused"`
	UserEmail string   `gorm:"index;not null" json:"user_email"`

	APIKey     string `json:"-"`
	APISecret  string `json:"-"`
	Passphrase string `json:"-"`
	AccountID  string `json:"-"`
	Login      string `json:"-"`
	Password   string `json:"-"`
	Server     string `json:"-"`
}
