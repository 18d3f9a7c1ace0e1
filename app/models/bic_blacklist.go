package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// BicBlacklist blocks billing against a bank. Prefix entries match any BIC starting
// with the stored value.
type BicBlacklist struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	BIC           string            `gorm:"column:bic;type:varchar(11);not null;uniqueIndex:ux_bic_blacklists_bic_prefix,priority:1" json:"bic"`
	IsPrefix      bool              `gorm:"not null;default:false;uniqueIndex:ux_bic_blacklists_bic_prefix,priority:2" json:"is_prefix"`
	Reason        string            `gorm:"type:varchar(255);default:''" json:"reason"`
	Source        string            `gorm:"type:varchar(20);not null;default:'manual';index" json:"source"`
	AutoCriteria  string            `gorm:"type:varchar(50);default:''" json:"auto_criteria"`
	StatsSnapshot datatypes.JSONMap `json:"stats_snapshot,omitempty"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for BicBlacklist
func (BicBlacklist) TableName() string {
	return "bic_blacklists"
}

// Matches reports whether the entry covers the given BIC
func (b *BicBlacklist) Matches(bic string) bool {
	bic = strings.ToUpper(strings.TrimSpace(bic))
	stored := strings.ToUpper(strings.TrimSpace(b.BIC))
	if bic == "" || stored == "" {
		return false
	}
	if b.IsPrefix {
		return strings.HasPrefix(bic, stored)
	}
	return bic == stored
}
