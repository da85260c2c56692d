package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofHash commits to (challenge, user, submission, time) using the same
// packed encoding the badge contract verifies against:
// keccak256(challengeID ‖ userID ‖ submissionID ‖ uint256(unixMillis)).
func ProofHash(challengeID, userID, submissionID string, unixMillis int64) common.Hash {
	buf := make([]byte, 0, len(challengeID)+len(userID)+len(submissionID)+32)
	buf = append(buf, challengeID...)
	buf = append(buf, userID...)
	buf = append(buf, submissionID...)
	buf = append(buf, math.U256Bytes(big.NewInt(unixMillis))...)
	return crypto.Keccak256Hash(buf)
}

// ChallengeIDHash maps an off-chain challenge id onto the contract's uint256
// challenge key.
func ChallengeIDHash(challengeID string) *big.Int {
	return crypto.Keccak256Hash([]byte(challengeID)).Big()
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
