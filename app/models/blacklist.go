package models

import "time"

// Blacklist sources
const (
	BlacklistSourceManual = "manual"
	BlacklistSourceImport = "import"
	BlacklistSourceAuto   = "auto"
)

// Blacklist is an entry of the general fraud list. An entry is keyed by IBAN, e-mail
// or a (first name, last name) pair; unused keys stay empty.
type Blacklist struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	IBAN      string    `gorm:"column:iban;type:varchar(64);default:''" json:"iban"`
	IBANHash  string    `gorm:"column:iban_hash;type:varchar(64);default:'';index" json:"iban_hash"`
	Email     string    `gorm:"type:varchar(200);default:'';index" json:"email"`
	FirstName string    `gorm:"type:varchar(100);default:''" json:"first_name"`
	LastName  string    `gorm:"type:varchar(100);default:''" json:"last_name"`
	Reason    string    `gorm:"type:varchar(255);default:''" json:"reason"`
	Source    string    `gorm:"type:varchar(20);default:'manual'" json:"source"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Blacklist
func (Blacklist) TableName() string {
	return "blacklists"
}
