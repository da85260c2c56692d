package chain

// BadgeContractABI is the subset of the badge NFT contract the service calls.
const BadgeContractABI = `[
	{"type":"function","name":"mintBadge","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"challengeId","type":"uint256"},{"name":"proofHash","type":"bytes32"},{"name":"uri","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getBadgesOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"hasChallengeBadge","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"challengeId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"totalMinted","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"BadgeMinted","anonymous":false,"inputs":[{"name":"recipient","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},{"name":"challengeId","type":"uint256","indexed":true},{"name":"proofHash","type":"bytes32","indexed":false},{"name":"uri","type":"string","indexed":false}]}
]`

// StakingContractABI covers the badge staking contract.
const StakingContractABI = `[
	{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"difficulty","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimAllRewards","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"pendingRewards","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalPendingRewards","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getStakedTokens","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"stakes","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"owner","type":"address"},{"name":"stakedAt","type":"uint256"},{"name":"lastClaimAt","type":"uint256"},{"name":"difficulty","type":"uint8"}]}
]`
