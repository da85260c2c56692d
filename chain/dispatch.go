package chain

import (
	"context"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Dispatcher serializes transaction submission per signing account so that
// concurrent callers never race for the same nonce. Only submission runs in
// the lane; waiting for receipts happens outside it.
type Dispatcher struct {
	mu    sync.Mutex
	lanes map[common.Address]*lane
}

type lane struct {
	slot      chan struct{}
	nextNonce *big.Int
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{lanes: make(map[common.Address]*lane)}
}

func (d *Dispatcher) lane(addr common.Address) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[addr]
	if !ok {
		l = &lane{slot: make(chan struct{}, 1)}
		d.lanes[addr] = l
	}
	return l
}

// Send waits for the signer's lane, fills in the locally tracked nonce and
// runs submit. A failed submission drops the cached nonce so the next call
// re-reads it from the node.
func (d *Dispatcher) Send(ctx context.Context, signer Signer, submit func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	l := d.lane(signer.Address())

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.slot }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Nonce == nil && l.nextNonce != nil {
		opts.Nonce = new(big.Int).Set(l.nextNonce)
	}

	tx, err := submit(opts)
	if err != nil {
		l.nextNonce = nil
		log.Printf("❌ [DISPATCH] %s submit failed: %v", signer.Address().Hex(), err)
		return nil, err
	}
	l.nextNonce = new(big.Int).SetUint64(tx.Nonce() + 1)
	return tx, nil
}
