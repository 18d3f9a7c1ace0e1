package models

import "time"

// GatewayEvent stores normalised outcome events reported by the payment gateway
// with deduplication metadata for idempotent processing.
type GatewayEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_gateway_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';uniqueIndex:ux_gateway_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	TransactionID   string     `gorm:"type:varchar(100);not null;default:'';index" json:"transaction_id"`
	PayloadJSON     string     `gorm:"type:text" json:"payload_json"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GatewayEvent
func (GatewayEvent) TableName() string {
	return "gateway_events"
}
