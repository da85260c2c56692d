package utils

import (
	"context"
	"fmt"
	"log"

	"proof-badge-system/config"

	"github.com/gosimple/slug"
)

// Archive is implemented by R2Archive and IPFSArchive.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

// NewArchive builds the configured archive backend, or nil when archiving is off.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Backend {
	case "", "none":
		log.Println("ℹ️ [ARCHIVE] Metadata archive disabled")
		return nil, nil
	case "r2":
		return NewR2Archive(ctx, cfg)
	case "ipfs":
		return NewIPFSArchive(cfg)
	}
	return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
}

// MetadataKey is the object key for a badge metadata document, e.g.
// "badges/morning-run-5k/3f2a9c1e.json".
func MetadataKey(challengeTitle, submissionID string) string {
	short := submissionID
	if len(short) > 8 {
		short = short[:8]
	}
	name := slug.Make(challengeTitle)
	if name == "" {
		name = "challenge"
	}
	return fmt.Sprintf("badges/%s/%s.json", name, short)
}
