package relay

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/chainmock"
	"github.com/meverselabs/relayer/core/executor"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/registry"
	"github.com/meverselabs/relayer/core/types"
	"github.com/meverselabs/relayer/core/validator"
	"github.com/meverselabs/relayer/service/metrics"
)

const relayerKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var forwarderAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

type env struct {
	chain *chainmock.Chain
	fwd   *chainmock.Forwarder
	ex    *executor.Executor
	svc   *Service
}

func newEnv(t *testing.T, depth int, chain *chainmock.Chain) *env {
	fwd := chainmock.NewForwarder(forwarderAddr)
	key, err := executor.ParseKey(relayerKey)
	require.NoError(t, err)
	ex, err := executor.NewExecutor(context.Background(), chain, fwd, key, executor.Config{
		GasOverhead:    50000,
		ReceiptTimeout: 300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	require.NoError(t, err)
	reg := registry.NewRegistry(registry.NewMemoryStore())
	svc := NewService(validator.NewValidator(fwd, 0), ex, reg, metrics.New(), Config{
		QueueDepth:      depth,
		StatusCacheSize: 16,
		MinBalance:      big.NewInt(1000),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &env{chain: chain, fwd: fwd, ex: ex, svc: svc}
}

func wire(nonce int) *forwarder.WireSubmission {
	return &forwarder.WireSubmission{
		Request: &forwarder.WireRequest{
			From:  "0x1111111111111111111111111111111111111111",
			To:    "0x2222222222222222222222222222222222222222",
			Value: "0",
			Gas:   "100000",
			Nonce: forwarder.Quantity(strconv.Itoa(nonce)),
			Data:  "0x",
		},
		Signature: "0x0102",
	}
}

func waitTerminal(t *testing.T, svc *Service, hash common.Hash) *types.Record {
	ch, stop := svc.Watch(hash)
	defer stop()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatal("no terminal record")
	}
	return nil
}

func TestRelayHappyPath(t *testing.T) {
	e := newEnv(t, 8, chainmock.NewChain(84532))
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	out := e.svc.Relay(context.Background(), wire(0))
	require.True(t, out.Success, out.Error)
	assert.Equal(t, http.StatusOK, out.HTTPStatus())
	assert.False(t, out.Duplicate)

	hash := common.HexToHash(out.TxHash)
	rec := waitTerminal(t, e.svc, hash)
	assert.Equal(t, types.StatusConfirmed, rec.Status)
	require.NotNil(t, rec.BlockNumber)

	status, err := e.svc.Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, status.Status)

	sent := e.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hash, sent[0].Hash())
}

func TestRelayInvalidSignatureNeverQueued(t *testing.T) {
	e := newEnv(t, 8, chainmock.NewChain(84532))
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(false, nil)

	out := e.svc.Relay(context.Background(), wire(0))
	assert.False(t, out.Success)
	assert.Equal(t, "Invalid signature", out.Error)
	assert.Equal(t, rcommon.StageSignature, out.Stage)
	assert.Equal(t, http.StatusBadRequest, out.HTTPStatus())
	assert.Empty(t, e.chain.Sent())
	assert.Equal(t, 0, e.svc.Pool().Size())
}

func TestRelayShapeRejectedWithoutRPC(t *testing.T) {
	e := newEnv(t, 8, chainmock.NewChain(84532))

	w := wire(0)
	w.Request.Gas = "0"
	out := e.svc.Relay(context.Background(), w)
	assert.False(t, out.Success)
	assert.Equal(t, "Gas must be greater than 0", out.Error)
	assert.Equal(t, http.StatusBadRequest, out.HTTPStatus())
	e.fwd.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestRelayOracleFailure(t *testing.T) {
	e := newEnv(t, 8, chainmock.NewChain(84532))
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(false, errors.New("dial tcp: refused"))

	out := e.svc.Relay(context.Background(), wire(0))
	assert.False(t, out.Success)
	assert.Equal(t, rcommon.StageOracle, out.Stage)
	assert.True(t, out.Retryable)
	assert.Equal(t, http.StatusInternalServerError, out.HTTPStatus())
	assert.Empty(t, e.chain.Sent())
}

func TestRelayDuplicateSequential(t *testing.T) {
	e := newEnv(t, 8, chainmock.NewChain(84532))
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil).Once()
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(false, nil)

	first := e.svc.Relay(context.Background(), wire(0))
	require.True(t, first.Success)

	second := e.svc.Relay(context.Background(), wire(0))
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TxHash, second.TxHash)
	assert.Len(t, e.chain.Sent(), 1)
}

func TestRelayDuplicateConcurrent(t *testing.T) {
	chain := chainmock.NewChain(84532)
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain.SendHook = func(tx *etypes.Transaction) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	e := newEnv(t, 8, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	const count = 5
	outs := make([]*Outcome, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = e.svc.Relay(context.Background(), wire(0))
		}(i)
	}
	<-entered
	close(release)
	wg.Wait()

	for _, out := range outs {
		assert.True(t, out.Success, out.Error)
		assert.Equal(t, outs[0].TxHash, out.TxHash)
	}
	assert.Len(t, chain.Sent(), 1)
}

func TestRelayOverloaded(t *testing.T) {
	chain := chainmock.NewChain(84532)
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain.SendHook = func(tx *etypes.Transaction) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	e := newEnv(t, 1, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	resA := make(chan *Outcome, 1)
	go func() { resA <- e.svc.Relay(context.Background(), wire(0)) }()
	<-entered

	resB := make(chan *Outcome, 1)
	go func() { resB <- e.svc.Relay(context.Background(), wire(1)) }()
	require.Eventually(t, func() bool { return e.svc.Pool().Size() == 1 }, 3*time.Second, 5*time.Millisecond)

	c := e.svc.Relay(context.Background(), wire(2))
	assert.False(t, c.Success)
	assert.Equal(t, "Overloaded", c.Error)
	assert.Equal(t, rcommon.StageQueue, c.Stage)
	assert.True(t, c.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, c.HTTPStatus())

	close(release)
	a, b := <-resA, <-resB
	require.True(t, a.Success, a.Error)
	require.True(t, b.Success, b.Error)

	sent := chain.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, a.TxHash, sent[0].Hash().Hex())
	assert.Equal(t, uint64(0), sent[0].Nonce())
	assert.Equal(t, b.TxHash, sent[1].Hash().Hex())
	assert.Equal(t, uint64(1), sent[1].Nonce())
}

func TestRelayCanceledWhileQueued(t *testing.T) {
	chain := chainmock.NewChain(84532)
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain.SendHook = func(tx *etypes.Transaction) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	e := newEnv(t, 4, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	resA := make(chan *Outcome, 1)
	go func() { resA <- e.svc.Relay(context.Background(), wire(0)) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	resB := make(chan *Outcome, 1)
	go func() { resB <- e.svc.Relay(ctx, wire(1)) }()
	require.Eventually(t, func() bool { return e.svc.Pool().Size() == 1 }, 3*time.Second, 5*time.Millisecond)
	cancel()

	b := <-resB
	assert.False(t, b.Success)
	assert.Equal(t, rcommon.StageQueue, b.Stage)
	assert.True(t, errors.Is(b.Err(), rcommon.ErrCanceled))

	close(release)
	a := <-resA
	assert.True(t, a.Success)
	assert.Len(t, chain.Sent(), 1)
}

func TestRelayRevertedIsReportedAsFailed(t *testing.T) {
	chain := chainmock.NewChain(84532)
	chain.ExecuteHook = func(tx *etypes.Transaction) bool { return false }
	e := newEnv(t, 8, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil).Once()
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(false, nil)

	out := e.svc.Relay(context.Background(), wire(0))
	require.True(t, out.Success)
	rec := waitTerminal(t, e.svc, common.HexToHash(out.TxHash))
	assert.Equal(t, types.StatusFailed, rec.Status)

	again := e.svc.Relay(context.Background(), wire(0))
	assert.False(t, again.Success)
	assert.True(t, again.Duplicate)
	assert.Equal(t, out.TxHash, again.TxHash)
	assert.Equal(t, rcommon.ErrReverted.Error(), again.Error)
	assert.Equal(t, http.StatusOK, again.HTTPStatus())
}

func TestStatusAfterReceiptTimeout(t *testing.T) {
	chain := chainmock.NewChain(84532)
	chain.AutoMine = false
	e := newEnv(t, 8, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	out := e.svc.Relay(context.Background(), wire(0))
	require.True(t, out.Success)
	hash := common.HexToHash(out.TxHash)

	rec, err := e.svc.Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.Status)

	time.Sleep(400 * time.Millisecond)
	chain.Mine()

	rec, err = e.svc.Status(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, rec.Status)

	stored, found, err := e.svc.Registry().Get(hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusConfirmed, stored.Status)
}

func TestStatusUntracked(t *testing.T) {
	chain := chainmock.NewChain(84532)
	e := newEnv(t, 8, chain)
	ctx := context.Background()

	_, err := e.svc.Status(ctx, common.HexToHash("0xdead"))
	assert.True(t, errors.Is(err, rcommon.ErrNotFound))

	sub, err := validator.NewValidator(e.fwd, 0).ValidateSubmission(wire(0))
	require.NoError(t, err)
	rec, err := e.ex.Submit(ctx, sub, 0)
	require.NoError(t, err)

	status, err := e.svc.Status(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, status.Status)

	chain.Lock()
	chain.ReceiptErr = errors.New("down")
	chain.Unlock()
	cached, err := e.svc.Status(ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, cached.Status)

	_, found, err := e.svc.Registry().Get(rec.Hash)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInfo(t *testing.T) {
	chain := chainmock.NewChain(84532)
	e := newEnv(t, 8, chain)
	chain.SetBalance(e.ex.Address(), big.NewInt(500))

	info, err := e.svc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, e.ex.Address().Hex(), info.Address)
	assert.Equal(t, "500", info.Balance)
	assert.Equal(t, uint64(84532), info.ChainID)
	assert.Equal(t, forwarderAddr.Hex(), info.Forwarder)
	assert.Equal(t, 8, info.QueueDepth)
	assert.True(t, e.svc.LowBalance(big.NewInt(500)))

	chain.Lock()
	chain.BalanceErr = errors.New("down")
	chain.Unlock()
	_, err = e.svc.Info(context.Background())
	assert.True(t, errors.Is(err, rcommon.ErrNetwork))
}

func flightWaiters(s *Service, cid common.Hash) int {
	s.Lock()
	defer s.Unlock()

	if f, has := s.flights[cid]; has {
		return f.waiters
	}
	return 0
}

func TestRelayNonceTakenOutsideIsRetryable(t *testing.T) {
	chain := chainmock.NewChain(84532)
	e := newEnv(t, 8, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)
	ctx := context.Background()

	first := e.svc.Relay(ctx, wire(0))
	require.True(t, first.Success, first.Error)

	// another process sends with the relayer key at nonce 1
	key, err := executor.ParseKey(relayerKey)
	require.NoError(t, err)
	tx, err := etypes.SignTx(etypes.NewTransaction(1, common.HexToAddress("0x33"), big.NewInt(0), 21000, big.NewInt(1), nil), etypes.NewEIP155Signer(big.NewInt(84532)), key)
	require.NoError(t, err)
	require.NoError(t, chain.SendTransaction(ctx, tx))

	out := e.svc.Relay(ctx, wire(1))
	assert.False(t, out.Success)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Retryable)
	assert.True(t, errors.Is(out.Err(), rcommon.ErrBroadcastFailed))

	sub, err := e.svc.validator.ValidateSubmission(wire(1))
	require.NoError(t, err)
	_, found, err := e.svc.Registry().GetByCorrelation(sub.CorrelationID())
	require.NoError(t, err)
	assert.False(t, found)

	again := e.svc.Relay(ctx, wire(1))
	require.True(t, again.Success, again.Error)
	assert.False(t, again.Duplicate)

	sent := chain.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, again.TxHash, sent[2].Hash().Hex())
	assert.Equal(t, uint64(2), sent[2].Nonce())
}

func TestRelaySharedSubmissionOutlivesOneCaller(t *testing.T) {
	chain := chainmock.NewChain(84532)
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	chain.SendHook = func(tx *etypes.Transaction) error {
		entered <- struct{}{}
		<-release
		return nil
	}
	e := newEnv(t, 4, chain)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	resA := make(chan *Outcome, 1)
	go func() { resA <- e.svc.Relay(context.Background(), wire(0)) }()
	<-entered

	sub, err := e.svc.validator.ValidateSubmission(wire(1))
	require.NoError(t, err)
	cid := sub.CorrelationID()

	ctx, cancel := context.WithCancel(context.Background())
	resGone := make(chan *Outcome, 1)
	resStay := make(chan *Outcome, 1)
	go func() { resGone <- e.svc.Relay(ctx, wire(1)) }()
	go func() { resStay <- e.svc.Relay(context.Background(), wire(1)) }()
	require.Eventually(t, func() bool {
		return flightWaiters(e.svc, cid) == 2 && e.svc.Pool().Size() == 1
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	gone := <-resGone
	assert.False(t, gone.Success)
	assert.True(t, errors.Is(gone.Err(), rcommon.ErrCanceled))
	assert.Equal(t, 1, e.svc.Pool().Size())

	close(release)
	a := <-resA
	require.True(t, a.Success, a.Error)
	stay := <-resStay
	require.True(t, stay.Success, stay.Error)

	sent := chain.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, stay.TxHash, sent[1].Hash().Hex())
	assert.Equal(t, 0, flightWaiters(e.svc, cid))
}

func TestRelayNonceFollowsEnqueueOrder(t *testing.T) {
	chain := chainmock.NewChain(84532)
	e := newEnv(t, 8, chain)

	var once sync.Once
	verifyingA := make(chan struct{})
	releaseA := make(chan time.Time)
	isA := func(req *forwarder.Request) bool {
		if req.Nonce.Int64() != 0 {
			return false
		}
		once.Do(func() { close(verifyingA) })
		return true
	}
	e.fwd.On("Verify", mock.MatchedBy(isA), mock.Anything).WaitUntil(releaseA).Return(true, nil)
	e.fwd.On("Verify", mock.Anything, mock.Anything).Return(true, nil)

	resA := make(chan *Outcome, 1)
	go func() { resA <- e.svc.Relay(context.Background(), wire(0)) }()
	<-verifyingA

	// B arrives later but is verified and enqueued first
	b := e.svc.Relay(context.Background(), wire(1))
	require.True(t, b.Success, b.Error)

	close(releaseA)
	a := <-resA
	require.True(t, a.Success, a.Error)

	sent := chain.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, b.TxHash, sent[0].Hash().Hex())
	assert.Equal(t, uint64(0), sent[0].Nonce())
	assert.Equal(t, a.TxHash, sent[1].Hash().Hex())
	assert.Equal(t, uint64(1), sent[1].Nonce())
}
