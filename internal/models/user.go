package models

import "gorm.io/gorm"

// Subscription plans.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// User is the subscription and usage record of an account owning bots.
// TradeCount is only ever incremented by the trade path; resets are an admin operation.
type User struct {
	gorm.Model
	Email            string `gorm:"uniqueIndex;not null" json:"email"`
	SubscriptionPlan string `gorm:"default:free;not null" json:"subscription_plan"`
	TradeCount       int    `gorm:"default:0;not null" json:"trade_count"`
}
