package models

import "gorm.io/gorm"

// Profile holds a user's public identity plus derived reputation counters.
// TotalPoints and BadgesCount are a cache over badge_records/submissions and
// can always be recomputed.
type Profile struct {
	ID            string  `gorm:"primaryKey;size:128" json:"id"`
	Username      string  `gorm:"size:64" json:"username,omitempty"`
	WalletAddress *string `gorm:"size:64;index" json:"wallet_address,omitempty"`
	TotalPoints   int64   `gorm:"not null;default:0" json:"total_points"`
	BadgesCount   int64   `gorm:"not null;default:0" json:"badges_count"`
	Timestamps
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

func (p *Profile) Wallet() string {
	if p.WalletAddress == nil {
		return ""
	}
	return *p.WalletAddress
}
