package models

import "time"

// Payment provider constants used across member-related models.
const (
	ProviderHotmart = "hotmart"
)

// Member links a payment-provider subscription (keyed by purchase email)
// to a Discord identity. The record is merged field-wise: webhook events
// own the subscription fields, the OAuth link flow owns DiscordUserID.
type Member struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	PurchaseEmail      string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_members_purchase_email" json:"purchase_email"`
	SubscriptionID     string    `gorm:"type:varchar(191);default:''" json:"subscription_id"`
	SubscriptionStatus string    `gorm:"type:varchar(32);default:'';index" json:"subscription_status"`
	Plan               string    `gorm:"type:varchar(100);default:''" json:"plan"`
	DiscordUserID      string    `gorm:"type:varchar(32);default:'';index" json:"discord_user_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
