package models

import (
	"time"

	"gorm.io/gorm"
)

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

// Submission is a user's proof that a challenge was completed. Status only
// ever moves out of pending once.
type Submission struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	UserID          string           `gorm:"size:128;not null;index" json:"user_id"`
	ChallengeID     string           `gorm:"size:36;not null;index" json:"challenge_id"`
	Status          SubmissionStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ProofMedia      string           `gorm:"type:text" json:"proof_media"`
	Caption         string           `gorm:"type:text" json:"caption,omitempty"`
	MintAddress     *string          `gorm:"size:128" json:"nft_mint_address,omitempty"`
	MetadataURI     *string          `gorm:"type:text" json:"nft_metadata_uri,omitempty"`
	TxSignature     *string          `gorm:"size:128" json:"nft_tx_signature,omitempty"`
	MintedAt        *time.Time       `json:"minted_at,omitempty"`
	RejectionReason *string          `gorm:"type:text" json:"rejection_reason,omitempty"`
	Timestamps

	Challenge *Challenge `gorm:"foreignKey:ChallengeID" json:"challenge,omitempty"`
}

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	if s.Status == "" {
		s.Status = StatusPending
	}
	return nil
}

func (s *Submission) IsPending() bool { return s.Status == StatusPending }
