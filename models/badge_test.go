package models

import (
	"strings"
	"testing"
)

func TestBroadcastTxHash(t *testing.T) {
	hash := "0x" + strings.Repeat("0f", 32)
	tests := []struct {
		marker string
		want   string
		ok     bool
	}{
		{PendingTxPrefix + hash, hash, true},
		{hash, "", false},
		{PendingTxPrefix + "1700000000000_ab12cd34ef", "", false},
		{SimulatedTxPrefix + hash, "", false},
		{PendingTxPrefix + "0x" + strings.Repeat("zz", 32), "", false},
	}
	for _, tt := range tests {
		rec := &BadgeRecord{TxSignature: tt.marker}
		got, ok := rec.BroadcastTxHash()
		if got != tt.want || ok != tt.ok {
			t.Errorf("%q: got (%q, %v), want (%q, %v)", tt.marker, got, ok, tt.want, tt.ok)
		}
	}
}
