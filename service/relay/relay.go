package relay

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/registry"
	"github.com/meverselabs/relayer/core/txpool"
	"github.com/meverselabs/relayer/core/types"
	"github.com/meverselabs/relayer/core/validator"
	"github.com/meverselabs/relayer/service/metrics"
)

// Executor is the on-chain side of the relay
type Executor interface {
	txpool.Submitter
	Address() common.Address
	ChainID() *big.Int
	Forwarder() common.Address
	Balance(ctx context.Context) (*big.Int, error)
	Receipt(ctx context.Context, hash common.Hash) (types.Outcome, error)
	AwaitReceipt(ctx context.Context, hash common.Hash) (types.Outcome, error)
}

// Config tunes the relay service
type Config struct {
	QueueDepth      int
	StatusCacheSize int
	MinBalance      *big.Int
	BalanceInterval time.Duration
}

// Service validates, verifies, submits and tracks relayed requests
type Service struct {
	sync.Mutex
	validator *validator.Validator
	executor  Executor
	registry  *registry.Registry
	pool      *txpool.TransactionPool
	group     singleflight.Group
	flights   map[common.Hash]*flight
	cache     gcache.Cache
	metrics   *metrics.Metrics
	cfg       Config
	runCtx    context.Context
	confirms  sync.WaitGroup
	log       zerolog.Logger
}

// Outcome is the answer to a relay submission
type Outcome struct {
	Success   bool          `json:"success"`
	TxHash    string        `json:"txHash,omitempty"`
	Error     string        `json:"error,omitempty"`
	Stage     rcommon.Stage `json:"stage,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	Duplicate bool          `json:"duplicate,omitempty"`
	err       error
}

// Err returns the error behind a failed outcome
func (o *Outcome) Err() error {
	return o.err
}

// HTTPStatus returns the status code the outcome is served with
func (o *Outcome) HTTPStatus() int {
	switch {
	case o.Success || o.Duplicate:
		return http.StatusOK
	case o.Stage == rcommon.StageShape || o.Stage == rcommon.StageSignature:
		return http.StatusBadRequest
	case errors.Is(o.err, rcommon.ErrOverloaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Info describes the relayer account
type Info struct {
	Address    string `json:"address"`
	Balance    string `json:"balance"`
	ChainID    uint64 `json:"chainId"`
	Forwarder  string `json:"forwarder"`
	QueueSize  int    `json:"queueSize"`
	QueueDepth int    `json:"queueDepth"`
	Nonce      uint64 `json:"nonce"`
}

// NewService returns a Service
func NewService(v *validator.Validator, ex Executor, reg *registry.Registry, m *metrics.Metrics, cfg Config) *Service {
	if cfg.StatusCacheSize <= 0 {
		cfg.StatusCacheSize = 1024
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Service{
		validator: v,
		executor:  ex,
		registry:  reg,
		cache:     gcache.New(cfg.StatusCacheSize).LRU().Build(),
		metrics:   m,
		cfg:       cfg,
		runCtx:    context.Background(),
		flights:   map[common.Hash]*flight{},
		log:       rlog.With("relay"),
	}
	s.pool = txpool.NewTransactionPool(cfg.QueueDepth, ex, reg, s.confirm)
	return s
}

// Pool returns the submission queue
func (s *Service) Pool() *txpool.TransactionPool {
	return s.pool
}

// Registry returns the transaction registry
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Metrics returns the collectors
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Relay runs a submission through validation, verification and the queue.
// It returns once the forwarder transaction is broadcast, confirmation continues in the background.
func (s *Service) Relay(ctx context.Context, w *forwarder.WireSubmission) *Outcome {
	sub, err := s.validator.ValidateSubmission(w)
	if err != nil {
		return s.fail(err)
	}
	ok, err := s.validator.VerifySignature(ctx, sub.Request, sub.Signature)
	if err != nil {
		return s.fail(err)
	}

	cid := sub.CorrelationID()
	rec, found, err := s.registry.GetByCorrelation(cid)
	if err != nil {
		return s.fail(err)
	}
	if found {
		// the forwarder nonce of a payload we already executed is consumed, so verify is false here
		return s.duplicate(rec)
	}
	if !ok {
		return s.fail(errors.WithStack(rcommon.ErrSignatureInvalid))
	}

	res, err := s.await(ctx, sub)
	if err != nil {
		if errors.Is(err, rcommon.ErrDuplicateSubmission) {
			if rec, found, _ := s.registry.GetByCorrelation(cid); found {
				return s.duplicate(rec)
			}
		}
		return s.fail(err)
	}
	if res.duplicate {
		return s.duplicate(res.rec)
	}
	s.metrics.ObserveRelay(metrics.ResultAccepted)
	return &Outcome{
		Success: true,
		TxHash:  res.rec.Hash.Hex(),
	}
}

type submitResult struct {
	rec       *types.Record
	duplicate bool
}

// flight is the submission shared by every caller of one payload
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers a caller of the payload and returns the context its submission runs with.
// The context ends with the run context or when the last caller leaves.
func (s *Service) join(cid common.Hash) context.Context {
	s.Lock()
	defer s.Unlock()

	f, has := s.flights[cid]
	if !has {
		ctx, cancel := context.WithCancel(s.runCtx)
		f = &flight{ctx: ctx, cancel: cancel}
		s.flights[cid] = f
	}
	f.waiters++
	return f.ctx
}

// leave returns true for the last caller, whose leaving cancels the submission
func (s *Service) leave(cid common.Hash) bool {
	s.Lock()
	defer s.Unlock()

	f, has := s.flights[cid]
	if !has {
		return false
	}
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	delete(s.flights, cid)
	f.cancel()
	return true
}

// await shares one queued submission between the callers of the same payload.
// A caller that goes away cancels the submission only when nobody else waits for it.
func (s *Service) await(ctx context.Context, sub *forwarder.Submission) (*submitResult, error) {
	cid := sub.CorrelationID()
	for attempt := 0; ; attempt++ {
		fctx := s.join(cid)
		ch := s.group.DoChan(cid.Hex(), func() (interface{}, error) {
			return s.submit(fctx, sub)
		})

		var r singleflight.Result
		select {
		case r = <-ch:
			s.leave(cid)
		case <-ctx.Done():
			if !s.leave(cid) {
				return nil, errors.Wrap(rcommon.ErrCanceled, ctx.Err().Error())
			}
			r = <-ch
		}
		if r.Err != nil {
			// the flight joined here was canceled by callers that left before it ended
			if attempt == 0 && errors.Is(r.Err, rcommon.ErrCanceled) && ctx.Err() == nil && s.context().Err() == nil {
				continue
			}
			return nil, r.Err
		}
		return r.Val.(*submitResult), nil
	}
}

func (s *Service) submit(ctx context.Context, sub *forwarder.Submission) (*submitResult, error) {
	cid := sub.CorrelationID()
	if rec, found, err := s.registry.GetByCorrelation(cid); err != nil {
		return nil, err
	} else if found {
		return &submitResult{rec: rec, duplicate: true}, nil
	}

	h, err := s.pool.Enqueue(sub)
	if err != nil {
		return nil, err
	}
	s.metrics.QueueSize.Set(float64(s.pool.Size()))

	select {
	case <-h.Done():
	case <-ctx.Done():
		if s.pool.Cancel(h.ID) {
			s.log.Info().Str("correlation", cid.Hex()).Msg("canceled while queued")
		}
		<-h.Done()
	}
	s.metrics.QueueSize.Set(float64(s.pool.Size()))

	rec, err := h.Result()
	if err != nil {
		return nil, err
	}
	s.metrics.Broadcasts.Inc()
	return &submitResult{rec: rec}, nil
}

func (s *Service) fail(err error) *Outcome {
	stage := rcommon.StageOf(err)
	if stage == rcommon.StageShape || stage == rcommon.StageSignature {
		s.metrics.ObserveRelay(metrics.ResultRejected)
		s.log.Debug().Str("stage", string(stage)).Msg(rcommon.Reason(err))
	} else {
		s.metrics.ObserveRelay(metrics.ResultFailed)
		s.log.Warn().Err(err).Str("stage", string(stage)).Msg("relay failed")
	}
	return FailedOutcome(err)
}

// FailedOutcome describes the error as a relay answer
func FailedOutcome(err error) *Outcome {
	return &Outcome{
		Success:   false,
		Error:     rcommon.Reason(err),
		Stage:     rcommon.StageOf(err),
		Retryable: rcommon.Retryable(err),
		err:       err,
	}
}

func (s *Service) duplicate(rec *types.Record) *Outcome {
	s.metrics.ObserveRelay(metrics.ResultDuplicate)
	o := &Outcome{
		Success:   true,
		TxHash:    rec.Hash.Hex(),
		Duplicate: true,
	}
	if err := rec.Err(); err != nil {
		o.Success = false
		o.Error = rcommon.ErrReverted.Error()
		o.Stage = rcommon.StageExecution
		o.err = err
	}
	return o
}

// Status returns the record of the transaction hash or correlation id.
// Unknown or pending transactions are looked up once on chain.
func (s *Service) Status(ctx context.Context, hash common.Hash) (*types.Record, error) {
	rec, found, err := s.registry.Get(hash)
	if err != nil {
		return nil, err
	}
	if found && rec.Status.IsTerminal() {
		return rec, nil
	}
	if !found {
		if v, err := s.cache.Get(hash); err == nil {
			return v.(*types.Record).Clone(), nil
		}
	}

	target := hash
	if found {
		target = rec.Hash
	}
	o, err := s.executor.Receipt(ctx, target)
	if err != nil {
		if found {
			if !errors.Is(err, rcommon.ErrNotFound) {
				s.log.Warn().Err(err).Str("tx", target.Hex()).Msg("receipt lookup")
			}
			return rec, nil
		}
		return nil, err
	}

	if found {
		next, err := s.registry.RecordOutcome(target, o)
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveOutcome(next.Status.String())
		return next, nil
	}

	now := time.Now().UTC()
	untracked := (&types.Record{Hash: target, SubmittedAt: now}).Apply(o, now)
	if err := s.cache.Set(target, untracked); err != nil {
		s.log.Warn().Err(err).Msg("status cache")
	}
	return untracked.Clone(), nil
}

// Watch returns the terminal record of the hash when it arrives
func (s *Service) Watch(hash common.Hash) (<-chan *types.Record, func()) {
	return s.registry.Watch(hash)
}

// Info returns the relayer account summary
func (s *Service) Info(ctx context.Context) (*Info, error) {
	balance, err := s.executor.Balance(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetBalance(balance)
	nonce, _ := s.pool.Nonce()
	return &Info{
		Address:    s.executor.Address().Hex(),
		Balance:    balance.String(),
		ChainID:    s.executor.ChainID().Uint64(),
		Forwarder:  s.executor.Forwarder().Hex(),
		QueueSize:  s.pool.Size(),
		QueueDepth: s.pool.Depth(),
		Nonce:      nonce,
	}, nil
}

// ChainID returns the chain id of the relayer
func (s *Service) ChainID() uint64 {
	return s.executor.ChainID().Uint64()
}

// FetchExpectedNonce returns the forwarder nonce of the account
func (s *Service) FetchExpectedNonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	return s.validator.FetchExpectedNonce(ctx, addr)
}
