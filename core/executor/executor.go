package executor

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
)

// errors
var (
	ErrInvalidKey  = errors.New("invalid relayer key")
	ErrGasOverflow = errors.New("gas limit overflows")
)

// Backend is the part of the node rpc used by the executor. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *etypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*etypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*etypes.Transaction, bool, error)
}

// Config tunes transaction building and receipt polling
type Config struct {
	GasOverhead    uint64
	GasPrice       *big.Int
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Executor signs forwarder calls with the relayer key and follows them on chain
type Executor struct {
	backend  Backend
	contract forwarder.Contract
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	signer   etypes.Signer
	cfg      Config
	log      zerolog.Logger
}

// ParseKey parses a hex private key with or without the 0x prefix
func ParseKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	return key, nil
}

// NewExecutor returns an Executor bound to the chain id reported by the backend
func NewExecutor(ctx context.Context, backend Backend, contract forwarder.Contract, key *ecdsa.PrivateKey, cfg Config) (*Executor, error) {
	if key == nil {
		return nil, errors.WithStack(ErrInvalidKey)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrapf(rcommon.ErrNetwork, "chain id: %v", err)
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Executor{
		backend:  backend,
		contract: contract,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		signer:   etypes.NewEIP155Signer(chainID),
		cfg:      cfg,
		log:      rlog.With("executor"),
	}, nil
}

// Address returns the relayer account
func (e *Executor) Address() common.Address {
	return e.address
}

// ChainID returns the chain id of the backend
func (e *Executor) ChainID() *big.Int {
	return new(big.Int).Set(e.chainID)
}

// Forwarder returns the forwarder address
func (e *Executor) Forwarder() common.Address {
	return e.contract.Address()
}

// Balance returns the relayer balance in wei
func (e *Executor) Balance(ctx context.Context) (*big.Int, error) {
	v, err := e.backend.BalanceAt(ctx, e.address, nil)
	if err != nil {
		return nil, errors.Wrapf(rcommon.ErrNetwork, "balance: %v", err)
	}
	return v, nil
}

// PendingNonce returns the next nonce of the relayer account known to the node
func (e *Executor) PendingNonce(ctx context.Context) (uint64, error) {
	n, err := e.backend.PendingNonceAt(ctx, e.address)
	if err != nil {
		return 0, errors.Wrapf(rcommon.ErrNetwork, "pending nonce: %v", err)
	}
	return n, nil
}

// Submit signs execute(request, signature) with the nonce and broadcasts it.
// When the send fails the signed record is returned with ErrBroadcastFailed
// so that the caller can ask the node whether it holds the transaction anyway.
func (e *Executor) Submit(ctx context.Context, sub *forwarder.Submission, nonce uint64) (*types.Record, error) {
	data, err := e.contract.PackExecute(sub.Request, sub.Signature)
	if err != nil {
		return nil, err
	}
	gas := sub.Request.Gas.Uint64()
	if gas > math.MaxUint64-e.cfg.GasOverhead {
		return nil, errors.WithStack(ErrGasOverflow)
	}
	gasPrice, err := e.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	tx := etypes.NewTransaction(nonce, e.contract.Address(), new(big.Int).Set(sub.Request.Value), gas+e.cfg.GasOverhead, gasPrice, data)
	signed, err := etypes.SignTx(tx, e.signer, e.key)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	now := time.Now().UTC()
	rec := &types.Record{
		Hash:          signed.Hash(),
		CorrelationID: sub.CorrelationID(),
		Status:        types.StatusPending,
		Nonce:         nonce,
		Sponsor:       sub.Sponsor,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return rec, errors.Wrapf(rcommon.ErrBroadcastFailed, "%v", err)
	}
	return rec, nil
}

func (e *Executor) gasPrice(ctx context.Context) (*big.Int, error) {
	if e.cfg.GasPrice != nil && e.cfg.GasPrice.Sign() > 0 {
		return new(big.Int).Set(e.cfg.GasPrice), nil
	}
	v, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrapf(rcommon.ErrBroadcastFailed, "gas price: %v", err)
	}
	return v, nil
}

// Known checks that the node holds the transaction, pending or mined
func (e *Executor) Known(ctx context.Context, hash common.Hash) (bool, error) {
	tx, _, err := e.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, errors.Wrapf(rcommon.ErrNetwork, "transaction %v: %v", hash.Hex(), err)
	}
	return tx != nil, nil
}

// Receipt looks the receipt up once. ErrNotFound means the node has none yet.
func (e *Executor) Receipt(ctx context.Context, hash common.Hash) (types.Outcome, error) {
	r, err := e.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.Outcome{}, errors.Wrap(rcommon.ErrNotFound, hash.Hex())
		}
		return types.Outcome{}, errors.Wrapf(rcommon.ErrNetwork, "receipt %v: %v", hash.Hex(), err)
	}
	if r == nil {
		return types.Outcome{}, errors.Wrap(rcommon.ErrNotFound, hash.Hex())
	}
	return types.OutcomeFromReceipt(r), nil
}

// AwaitReceipt polls for the receipt until the receipt timeout.
// A reverted transaction is a failed outcome, not an error.
func (e *Executor) AwaitReceipt(ctx context.Context, hash common.Hash) (types.Outcome, error) {
	wctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		o, err := e.Receipt(wctx, hash)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, rcommon.ErrNotFound) {
			lastErr = nil
		} else {
			lastErr = err
			e.log.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup")
		}

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return types.Outcome{}, errors.WithStack(ctx.Err())
			}
			if lastErr != nil {
				return types.Outcome{}, lastErr
			}
			return types.Outcome{}, errors.Wrap(rcommon.ErrTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
