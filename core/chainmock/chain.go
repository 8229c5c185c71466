package chainmock

import (
	"context"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// errors
var (
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrNonceTooHigh = errors.New("nonce too high")
	ErrDropped      = errors.New("connection reset after send")
)

// Chain is an in-memory chain backend.
// Transactions from one sender are accepted only in nonce order.
type Chain struct {
	sync.Mutex
	chainID  *big.Int
	signer   etypes.Signer
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	pending  []*etypes.Transaction
	sent     []*etypes.Transaction
	receipts map[common.Hash]*etypes.Receipt
	height   uint64

	// AutoMine mines every accepted transaction at once
	AutoMine bool
	// GasPrice is returned by SuggestGasPrice
	GasPrice *big.Int
	// SendHook runs before a transaction is accepted, a non nil error rejects it
	SendHook func(tx *etypes.Transaction) error
	// ExecuteHook decides the receipt status of a mined transaction
	ExecuteHook func(tx *etypes.Transaction) bool
	// FailAfterAccept accepts the transaction but reports a send error
	FailAfterAccept bool
	// ReceiptErr fails receipt lookups
	ReceiptErr error
	// BalanceErr fails balance lookups
	BalanceErr error
}

// NewChain returns a Chain with the chain id
func NewChain(chainID int64) *Chain {
	id := big.NewInt(chainID)
	return &Chain{
		chainID:  id,
		signer:   etypes.NewEIP155Signer(id),
		balances: map[common.Address]*big.Int{},
		nonces:   map[common.Address]uint64{},
		receipts: map[common.Hash]*etypes.Receipt{},
		AutoMine: true,
		GasPrice: big.NewInt(1000000000),
	}
}

// SetBalance sets the balance of the account
func (c *Chain) SetBalance(addr common.Address, v *big.Int) {
	c.Lock()
	defer c.Unlock()

	c.balances[addr] = new(big.Int).Set(v)
}

// ChainID returns the chain id
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BalanceAt returns the balance of the account
func (c *Chain) BalanceAt(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error) {
	c.Lock()
	defer c.Unlock()

	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if v, has := c.balances[addr]; has {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

// PendingNonceAt returns the number of accepted transactions of the account
func (c *Chain) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	c.Lock()
	defer c.Unlock()

	return c.nonces[addr], nil
}

// SuggestGasPrice returns GasPrice
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.Lock()
	defer c.Unlock()

	return new(big.Int).Set(c.GasPrice), nil
}

// SendTransaction accepts the signed transaction
func (c *Chain) SendTransaction(ctx context.Context, tx *etypes.Transaction) error {
	if hook := c.sendHook(); hook != nil {
		if err := hook(tx); err != nil {
			return err
		}
	}
	from, err := etypes.Sender(c.signer, tx)
	if err != nil {
		return errors.WithStack(err)
	}

	c.Lock()
	defer c.Unlock()

	n := c.nonces[from]
	if tx.Nonce() < n {
		return errors.Wrapf(ErrNonceTooLow, "%v < %v", tx.Nonce(), n)
	}
	if tx.Nonce() > n {
		return errors.Wrapf(ErrNonceTooHigh, "%v > %v", tx.Nonce(), n)
	}
	c.nonces[from] = n + 1
	c.sent = append(c.sent, tx)
	c.pending = append(c.pending, tx)
	if c.AutoMine {
		c.mine()
	}
	if c.FailAfterAccept {
		return ErrDropped
	}
	return nil
}

func (c *Chain) sendHook() func(tx *etypes.Transaction) error {
	c.Lock()
	defer c.Unlock()

	return c.SendHook
}

// TransactionReceipt returns the receipt or ethereum.NotFound
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*etypes.Receipt, error) {
	c.Lock()
	defer c.Unlock()

	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}
	r, has := c.receipts[hash]
	if !has {
		return nil, ethereum.NotFound
	}
	cp := *r
	return &cp, nil
}

// TransactionByHash returns an accepted transaction or ethereum.NotFound
func (c *Chain) TransactionByHash(ctx context.Context, hash common.Hash) (*etypes.Transaction, bool, error) {
	c.Lock()
	defer c.Unlock()

	for _, tx := range c.sent {
		if tx.Hash() == hash {
			_, mined := c.receipts[hash]
			return tx, !mined, nil
		}
	}
	return nil, false, ethereum.NotFound
}

// Mine puts every pending transaction into a new block
func (c *Chain) Mine() {
	c.Lock()
	defer c.Unlock()

	c.mine()
}

func (c *Chain) mine() {
	if len(c.pending) == 0 {
		return
	}
	c.height++
	for _, tx := range c.pending {
		status := etypes.ReceiptStatusSuccessful
		if c.ExecuteHook != nil && !c.ExecuteHook(tx) {
			status = etypes.ReceiptStatusFailed
		}
		c.receipts[tx.Hash()] = &etypes.Receipt{
			Status:      status,
			TxHash:      tx.Hash(),
			GasUsed:     tx.Gas() / 2,
			BlockNumber: new(big.Int).SetUint64(c.height),
		}
	}
	c.pending = nil
}

// Sent returns the accepted transactions in order
func (c *Chain) Sent() []*etypes.Transaction {
	c.Lock()
	defer c.Unlock()

	return append([]*etypes.Transaction{}, c.sent...)
}

// Height returns the number of mined blocks
func (c *Chain) Height() uint64 {
	c.Lock()
	defer c.Unlock()

	return c.height
}
