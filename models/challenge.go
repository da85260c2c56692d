package models

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// Tier maps a difficulty to the staking tier used on-chain (1..4). Unknown
// difficulties map to 0.
func (d Difficulty) Tier() uint8 {
	switch Difficulty(strings.ToLower(string(d))) {
	case DifficultyEasy:
		return 1
	case DifficultyMedium:
		return 2
	case DifficultyHard:
		return 3
	case DifficultyExpert:
		return 4
	}
	return 0
}

type Challenge struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	Title            string     `gorm:"not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description,omitempty"`
	Category         string     `gorm:"size:64;index" json:"category"`
	Difficulty       Difficulty `gorm:"type:varchar(16);not null" json:"difficulty"`
	Points           int64      `gorm:"not null;default:0" json:"points"`
	BadgeName        string     `json:"badge_name,omitempty"`
	BadgeImageURL    string     `gorm:"type:text" json:"badge_image_url,omitempty"`
	CompletionsCount int64      `gorm:"not null;default:0" json:"completions_count"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	Timestamps
}

func (c *Challenge) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

var ErrInvalidChallenge = errors.New("invalid challenge")

// ValidateChallenge rejects rows that cannot back a badge: no title, no
// points or a difficulty outside the four known tiers.
func ValidateChallenge(c *Challenge) error {
	if c == nil {
		return fmt.Errorf("%w: missing", ErrInvalidChallenge)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: %s has no title", ErrInvalidChallenge, c.ID)
	}
	if c.Points <= 0 {
		return fmt.Errorf("%w: %s has no points", ErrInvalidChallenge, c.ID)
	}
	if c.Difficulty.Tier() == 0 {
		return fmt.Errorf("%w: %s has unknown difficulty %q", ErrInvalidChallenge, c.ID, c.Difficulty)
	}
	return nil
}
