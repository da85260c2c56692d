// models/wallet_mirror.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// WalletMirror mirrors wallet links from the wallet sync service. Profiles
// without a wallet are backfilled from here.
type WalletMirror struct {
	ID        string    `gorm:"primaryKey;size:36;not null" json:"id"`
	UserID    string    `gorm:"size:128;not null;index" json:"user_id"` // Profile ID
	Chain     string    `gorm:"type:varchar(64);not null;index" json:"chain"`
	Address   string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"address"`
	IsPrimary bool      `gorm:"not null;default:false" json:"is_primary"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (WalletMirror) TableName() string { return "wallet_mirror" }

func (w *WalletMirror) BeforeCreate(tx *gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
