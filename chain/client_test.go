package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestTokenIDFromLogs(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(BadgeContractABI))
	if err != nil {
		t.Fatal(err)
	}
	badge := common.HexToAddress("0x00000000000000000000000000000000000b4d6e")
	c := &Client{badgeAddr: badge, badgeABI: parsed}
	minted := parsed.Events["BadgeMinted"].ID
	recipient := common.BytesToHash(common.HexToAddress("0x1234").Bytes())

	tests := []struct {
		name    string
		logs    []*types.Log
		want    int64
		wantErr bool
	}{
		{"no logs", nil, 0, true},
		{"other contract", []*types.Log{{Address: common.HexToAddress("0x99"), Topics: []common.Hash{minted, recipient, common.BigToHash(big.NewInt(7)), {}}}}, 0, true},
		{"other event", []*types.Log{{Address: badge, Topics: []common.Hash{{1}, recipient, common.BigToHash(big.NewInt(7)), {}}}}, 0, true},
		{"minted", []*types.Log{{Address: badge, Topics: []common.Hash{minted, recipient, common.BigToHash(big.NewInt(42)), {}}}}, 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.tokenIDFromLogs(tt.logs)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got token %s, want error", got)
				}
				return
			}
			if err != nil || got.Int64() != tt.want {
				t.Fatalf("got %v, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestUnindexedMintErrorNamesTx(t *testing.T) {
	err := &UnindexedMintError{TxHash: "0xfeed"}
	if !strings.Contains(err.Error(), "0xfeed") {
		t.Fatalf("error = %q", err)
	}
}
