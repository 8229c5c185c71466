package executor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/chainmock"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
)

const relayerKey = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var forwarderAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

func newExecutor(t *testing.T, chain *chainmock.Chain) *Executor {
	key, err := ParseKey(relayerKey)
	require.NoError(t, err)
	e, err := NewExecutor(context.Background(), chain, chainmock.NewForwarder(forwarderAddr), key, Config{
		GasOverhead:    50000,
		ReceiptTimeout: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)
	return e
}

func submission() *forwarder.Submission {
	return &forwarder.Submission{
		Request: &forwarder.Request{
			From:  common.HexToAddress("0x11"),
			To:    common.HexToAddress("0x22"),
			Value: big.NewInt(7),
			Gas:   big.NewInt(100000),
			Nonce: big.NewInt(0),
			Data:  []byte{0xca, 0xfe},
		},
		Signature: []byte{1, 2, 3},
		Sponsor:   "acme",
	}
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("0x1234")
	assert.True(t, errors.Is(err, ErrInvalidKey))
	key, err := ParseKey(relayerKey[2:])
	require.NoError(t, err)
	assert.NotNil(t, key)
}

func TestSubmitBuildsForwarderCall(t *testing.T) {
	chain := chainmock.NewChain(1337)
	e := newExecutor(t, chain)
	sub := submission()

	rec, err := e.Submit(context.Background(), sub, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.Status)
	assert.Equal(t, sub.CorrelationID(), rec.CorrelationID)
	assert.Equal(t, "acme", rec.Sponsor)

	sent := chain.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, rec.Hash, tx.Hash())
	assert.Equal(t, forwarderAddr, *tx.To())
	assert.Equal(t, int64(7), tx.Value().Int64())
	assert.Equal(t, uint64(150000), tx.Gas())
	assert.Equal(t, uint64(0), tx.Nonce())

	from, err := etypes.Sender(etypes.NewEIP155Signer(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, e.Address(), from)

	req, sig, err := forwarder.UnpackExecute(tx.Data())
	require.NoError(t, err)
	assert.Equal(t, sub.Request.Data, req.Data)
	assert.Equal(t, sub.Signature, sig)
}

func TestSubmitSendFailure(t *testing.T) {
	chain := chainmock.NewChain(1337)
	chain.SendHook = func(tx *etypes.Transaction) error { return errors.New("rpc down") }
	e := newExecutor(t, chain)

	rec, err := e.Submit(context.Background(), submission(), 0)
	assert.True(t, errors.Is(err, rcommon.ErrBroadcastFailed))
	require.NotNil(t, rec)
	n, err := e.PendingNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestKnown(t *testing.T) {
	chain := chainmock.NewChain(1337)
	chain.FailAfterAccept = true
	e := newExecutor(t, chain)

	rec, err := e.Submit(context.Background(), submission(), 0)
	assert.True(t, errors.Is(err, rcommon.ErrBroadcastFailed))
	require.NotNil(t, rec)

	known, err := e.Known(context.Background(), rec.Hash)
	require.NoError(t, err)
	assert.True(t, known)

	known, err = e.Known(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.False(t, known)
}

func TestAwaitReceipt(t *testing.T) {
	chain := chainmock.NewChain(1337)
	e := newExecutor(t, chain)
	ctx := context.Background()

	rec, err := e.Submit(ctx, submission(), 0)
	require.NoError(t, err)
	o, err := e.AwaitReceipt(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, o.Status)
	assert.Equal(t, uint64(1), o.BlockNumber)
}

func TestAwaitReceiptReverted(t *testing.T) {
	chain := chainmock.NewChain(1337)
	chain.ExecuteHook = func(tx *etypes.Transaction) bool { return false }
	e := newExecutor(t, chain)
	ctx := context.Background()

	rec, err := e.Submit(ctx, submission(), 0)
	require.NoError(t, err)
	o, err := e.AwaitReceipt(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, o.Status)
}

func TestAwaitReceiptTimeout(t *testing.T) {
	chain := chainmock.NewChain(1337)
	chain.AutoMine = false
	e := newExecutor(t, chain)
	ctx := context.Background()

	rec, err := e.Submit(ctx, submission(), 0)
	require.NoError(t, err)
	_, err = e.AwaitReceipt(ctx, rec.Hash)
	assert.True(t, errors.Is(err, rcommon.ErrTimeout))

	_, err = e.Receipt(ctx, rec.Hash)
	assert.True(t, errors.Is(err, rcommon.ErrNotFound))

	chain.ReceiptErr = errors.New("503")
	_, err = e.AwaitReceipt(ctx, rec.Hash)
	assert.True(t, errors.Is(err, rcommon.ErrNetwork))
}

func TestBalance(t *testing.T) {
	chain := chainmock.NewChain(1337)
	e := newExecutor(t, chain)
	chain.SetBalance(e.Address(), big.NewInt(42))

	v, err := e.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())
	assert.Equal(t, int64(1337), e.ChainID().Int64())
	assert.Equal(t, forwarderAddr, e.Forwarder())
	assert.Equal(t, crypto.PubkeyToAddress(e.key.PublicKey), e.Address())
}
