package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer authorizes contract writes for one account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// KeySigner signs with a private key held by the service (the treasury).
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey), chainID: chainID}, nil
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// PresignedSigner relays a transaction the user signed in their own wallet.
// The transaction is only released when the gateway builds the same call
// (target and calldata).
type PresignedSigner struct {
	tx     *types.Transaction
	sender common.Address
}

func NewPresignedSigner(rawTx string, chainID *big.Int) (*PresignedSigner, error) {
	raw, err := hexutil.Decode(rawTx)
	if err != nil {
		return nil, fmt.Errorf("signed_tx is not hex: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("signed_tx is not a transaction: %w", err)
	}
	if tx.ChainId() != nil && tx.ChainId().Sign() != 0 && tx.ChainId().Cmp(chainID) != 0 {
		return nil, fmt.Errorf("signed_tx is for chain %s, want %s", tx.ChainId(), chainID)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("cannot recover signer: %w", err)
	}
	return &PresignedSigner{tx: tx, sender: sender}, nil
}

func (s *PresignedSigner) Address() common.Address { return s.sender }

func (s *PresignedSigner) Hash() common.Hash { return s.tx.Hash() }

func (s *PresignedSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts := &bind.TransactOpts{
		From:     s.sender,
		Nonce:    new(big.Int).SetUint64(s.tx.Nonce()),
		Value:    s.tx.Value(),
		GasLimit: s.tx.Gas(),
		Context:  ctx,
		Signer:   s.release,
	}
	if s.tx.Type() == types.LegacyTxType {
		opts.GasPrice = s.tx.GasPrice()
	} else {
		opts.GasFeeCap = s.tx.GasFeeCap()
		opts.GasTipCap = s.tx.GasTipCap()
	}
	return opts, nil
}

func (s *PresignedSigner) release(from common.Address, unsigned *types.Transaction) (*types.Transaction, error) {
	if from != s.sender {
		return nil, fmt.Errorf("%w: signer %s, caller %s", ErrSignerMismatch, s.sender.Hex(), from.Hex())
	}
	if unsigned.To() == nil || s.tx.To() == nil || *unsigned.To() != *s.tx.To() {
		return nil, fmt.Errorf("%w: wrong target contract", ErrSignerMismatch)
	}
	if !bytes.Equal(unsigned.Data(), s.tx.Data()) {
		return nil, fmt.Errorf("%w: calldata differs", ErrSignerMismatch)
	}
	return s.tx, nil
}
