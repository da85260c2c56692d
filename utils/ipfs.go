package utils

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"proof-badge-system/config"

	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSArchive pins badge metadata documents through an IPFS HTTP API node.
type IPFSArchive struct {
	sh      *shell.Shell
	gateway string
}

func NewIPFSArchive(cfg config.ArchiveConfig) (*IPFSArchive, error) {
	if cfg.IPFSAPI == "" {
		return nil, fmt.Errorf("IPFS archive needs IPFS_API")
	}
	gateway := cfg.IPFSGateway
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return &IPFSArchive{sh: shell.NewShell(cfg.IPFSAPI), gateway: gateway}, nil
}

// Put adds body to IPFS and returns its gateway URL. The key only appears in
// logs; IPFS addresses content by hash.
func (a *IPFSArchive) Put(ctx context.Context, key string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid, err := a.sh.Add(bytes.NewReader(body), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("failed to add %s to IPFS: %w", key, err)
	}
	return a.gateway + cid, nil
}
