package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"proof-badge-system/config"
	"proof-badge-system/staking"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client talks to the deployed badge and staking contracts over JSON-RPC.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int

	badgeAddr   common.Address
	badgeABI    abi.ABI
	badge       *bind.BoundContract
	stakingAddr common.Address
	stakingABI  abi.ABI
	staking     *bind.BoundContract

	treasury       Signer
	dispatcher     *Dispatcher
	receiptTimeout time.Duration
}

// Dial connects to the RPC endpoint and binds whichever contracts are
// configured. A missing treasury key leaves minting unconfigured.
func Dial(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:            eth,
		chainID:        big.NewInt(cfg.ChainID),
		dispatcher:     NewDispatcher(),
		receiptTimeout: cfg.ReceiptTimeout,
	}

	if cfg.BadgeContract != "" {
		if !IsAddress(cfg.BadgeContract) {
			return nil, fmt.Errorf("invalid badge contract address %q", cfg.BadgeContract)
		}
		c.badgeAddr = common.HexToAddress(cfg.BadgeContract)
		if c.badgeABI, err = abi.JSON(strings.NewReader(BadgeContractABI)); err != nil {
			return nil, fmt.Errorf("failed to parse badge ABI: %w", err)
		}
		c.badge = bind.NewBoundContract(c.badgeAddr, c.badgeABI, eth, eth, eth)
	}
	if cfg.StakingContract != "" {
		if !IsAddress(cfg.StakingContract) {
			return nil, fmt.Errorf("invalid staking contract address %q", cfg.StakingContract)
		}
		c.stakingAddr = common.HexToAddress(cfg.StakingContract)
		if c.stakingABI, err = abi.JSON(strings.NewReader(StakingContractABI)); err != nil {
			return nil, fmt.Errorf("failed to parse staking ABI: %w", err)
		}
		c.staking = bind.NewBoundContract(c.stakingAddr, c.stakingABI, eth, eth, eth)
	}
	if cfg.TreasuryKey != "" {
		if c.treasury, err = NewKeySigner(cfg.TreasuryKey, c.chainID); err != nil {
			return nil, fmt.Errorf("treasury key: %w", err)
		}
		log.Printf("🔑 [CHAIN] Treasury signer %s", c.treasury.Address().Hex())
	}

	return c, nil
}

func (c *Client) Close() { c.eth.Close() }

func (c *Client) ChainID() *big.Int { return c.chainID }

func (c *Client) Configured() bool { return c.badge != nil && c.treasury != nil }

func (c *Client) StakingConfigured() bool { return c.staking != nil }

// wait blocks for the receipt. A timeout reports the hash via PendingTxError.
func (c *Client) wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx := ctx
	if c.receiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.receiptTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, &PendingTxError{TxHash: tx.Hash().Hex(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *Client) MintBadge(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	tx, err := c.dispatcher.Send(ctx, c.treasury, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.badge.Transact(opts, "mintBadge", req.To, req.ChallengeIDHash, req.ProofHash, req.MetadataURI)
	})
	if err != nil {
		return nil, fmt.Errorf("mintBadge: %w", err)
	}
	log.Printf("⛓️ [CHAIN] mintBadge sent %s → %s", tx.Hash().Hex(), req.To.Hex())

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		return nil, err
	}

	tokenID, err := c.tokenIDFromLogs(receipt.Logs)
	if err != nil {
		log.Printf("⚠️ [CHAIN] %s mined but %v", tx.Hash().Hex(), err)
		return nil, &UnindexedMintError{TxHash: tx.Hash().Hex()}
	}
	return &MintReceipt{
		TxHash:      tx.Hash().Hex(),
		TokenID:     tokenID,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// tokenIDFromLogs reads the tokenId topic of the BadgeMinted event.
func (c *Client) tokenIDFromLogs(logs []*types.Log) (*big.Int, error) {
	event := c.badgeABI.Events["BadgeMinted"]
	for _, l := range logs {
		if l.Address != c.badgeAddr || len(l.Topics) < 4 || l.Topics[0] != event.ID {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[2].Bytes()), nil
	}
	return nil, errors.New("no BadgeMinted event in receipt")
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	if contract == nil {
		return nil, ErrNotConfigured
	}
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func (c *Client) GetBadgesOf(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	out, err := c.call(ctx, c.badge, "getBadgesOf", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (c *Client) HasChallengeBadge(ctx context.Context, owner common.Address, challengeIDHash *big.Int) (bool, error) {
	out, err := c.call(ctx, c.badge, "hasChallengeBadge", owner, challengeIDHash)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *Client) transact(ctx context.Context, signer Signer, method string, args ...interface{}) (*TxReceipt, error) {
	if c.staking == nil {
		return nil, ErrNotConfigured
	}
	tx, err := c.dispatcher.Send(ctx, signer, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.staking.Transact(opts, method, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	log.Printf("⛓️ [CHAIN] %s sent %s from %s", method, tx.Hash().Hex(), signer.Address().Hex())

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &TxReceipt{TxHash: tx.Hash().Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (c *Client) Stake(ctx context.Context, signer Signer, tokenID *big.Int, tier staking.Tier) (*TxReceipt, error) {
	return c.transact(ctx, signer, "stake", tokenID, uint8(tier))
}

func (c *Client) Unstake(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error) {
	return c.transact(ctx, signer, "unstake", tokenID)
}

func (c *Client) ClaimRewards(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error) {
	return c.transact(ctx, signer, "claimRewards", tokenID)
}

func (c *Client) ClaimAllRewards(ctx context.Context, signer Signer) (*TxReceipt, error) {
	return c.transact(ctx, signer, "claimAllRewards")
}

func (c *Client) PendingRewards(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	out, err := c.call(ctx, c.staking, "pendingRewards", tokenID)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) TotalPendingRewards(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.staking, "totalPendingRewards", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) GetStakedTokens(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	out, err := c.call(ctx, c.staking, "getStakedTokens", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (c *Client) GetStake(ctx context.Context, tokenID *big.Int) (*StakeInfo, error) {
	out, err := c.call(ctx, c.staking, "stakes", tokenID)
	if err != nil {
		return nil, err
	}
	owner := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	stakedAt := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	lastClaimAt := *abi.ConvertType(out[2], new(*big.Int)).(**big.Int)
	tier := *abi.ConvertType(out[3], new(uint8)).(*uint8)
	return &StakeInfo{
		Owner:       owner,
		StakedAt:    time.Unix(stakedAt.Int64(), 0),
		LastClaimAt: time.Unix(lastClaimAt.Int64(), 0),
		Tier:        staking.Tier(tier),
	}, nil
}
