package models

import (
	"encoding/hex"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IssuanceMode string

const (
	// ModeReserved marks a row claimed by an in-flight issuance.
	ModeReserved IssuanceMode = "reserved"
	ModeOnChain  IssuanceMode = "onchain"
	// ModeDegraded rows carry placeholder tx/token markers and wait for an upgrade.
	ModeDegraded IssuanceMode = "degraded"
)

// Placeholder markers. Real tx hashes always start with 0x.
const (
	SimulatedTxPrefix   = "sim_"
	PendingTxPrefix     = "pending_"
	PlaceholderTokenPfx = "token_"
)

// BadgeRecord is the off-chain copy of one issued badge. submission_id is
// unique so a submission can never be issued twice.
type BadgeRecord struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	UserID         string         `gorm:"size:128;not null;index" json:"user_id"`
	SubmissionID   string         `gorm:"size:36;not null;uniqueIndex" json:"submission_id"`
	ChallengeID    string         `gorm:"size:36;not null;index" json:"challenge_id"`
	WalletAddress  string         `gorm:"size:64;index" json:"wallet_address"`
	MintAddress    string         `gorm:"size:128" json:"mint_address"`
	MetadataURI    string         `gorm:"type:text" json:"metadata_uri"`
	ArchiveURI     string         `gorm:"type:text" json:"archive_uri,omitempty"`
	TxSignature    string         `gorm:"size:128" json:"tx_signature"`
	TokenID        string         `gorm:"size:128" json:"token_id"`
	ProofHash      string         `gorm:"size:66" json:"proof_hash"`
	IssuedAtMillis int64          `gorm:"not null" json:"issued_at_millis"`
	Mode           IssuanceMode   `gorm:"type:varchar(16);not null;index" json:"mode"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	Name           string         `json:"name"`
	Description    string         `gorm:"type:text" json:"description"`
	ImageURL       string         `gorm:"type:text" json:"image_url"`
	Attributes     datatypes.JSON `json:"attributes"`
	Timestamps
}

func (b *BadgeRecord) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

func (b *BadgeRecord) IsDegraded() bool { return b.Mode == ModeDegraded }

// HasPlaceholderTx reports whether the tx marker was synthesized locally.
func (b *BadgeRecord) HasPlaceholderTx() bool {
	return strings.HasPrefix(b.TxSignature, SimulatedTxPrefix) || strings.HasPrefix(b.TxSignature, PendingTxPrefix)
}

// BroadcastTxHash returns the real tx hash kept behind a pending_ marker, if
// the mint was broadcast before the marker was written.
func (b *BadgeRecord) BroadcastTxHash() (string, bool) {
	hash, ok := strings.CutPrefix(b.TxSignature, PendingTxPrefix)
	if !ok || len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return "", false
	}
	if _, err := hex.DecodeString(hash[2:]); err != nil {
		return "", false
	}
	return hash, true
}
