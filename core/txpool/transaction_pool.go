package txpool

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/common/queue"
	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
)

// Submitter signs and broadcasts a submission with the given relayer nonce
type Submitter interface {
	PendingNonce(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, sub *forwarder.Submission, nonce uint64) (*types.Record, error)
	Known(ctx context.Context, hash common.Hash) (bool, error)
}

// Recorder stores the pending record of a broadcast transaction
type Recorder interface {
	RecordPending(correlationID common.Hash, hash common.Hash, nonce uint64, sponsor string) error
}

// ConfirmFunc is called by the drain loop after a broadcast and must not block
type ConfirmFunc func(rec *types.Record)

// TransactionPool serializes submissions of the relayer account.
// It is the only place a relayer nonce is assigned: items are popped one at a time
// and the next item waits until the previous one is broadcast or rejected.
type TransactionPool struct {
	sync.Mutex
	q           *queue.LinkedQueue
	seq         uint64
	nonce       uint64
	nonceLoaded bool
	running     bool
	closed      bool
	notify      chan struct{}
	submitter   Submitter
	recorder    Recorder
	confirm     ConfirmFunc
	log         zerolog.Logger
}

type poolItem struct {
	sub    *forwarder.Submission
	handle *Handle
}

// NewTransactionPool returns a TransactionPool holding at most depth waiting submissions
func NewTransactionPool(depth int, submitter Submitter, recorder Recorder, confirm ConfirmFunc) *TransactionPool {
	return &TransactionPool{
		q:         queue.NewLinkedQueue(depth),
		notify:    make(chan struct{}, 1),
		submitter: submitter,
		recorder:  recorder,
		confirm:   confirm,
		log:       rlog.With("txpool"),
	}
}

// Size returns the number of waiting submissions
func (tp *TransactionPool) Size() int {
	return tp.q.Size()
}

// Depth returns the capacity of the pool
func (tp *TransactionPool) Depth() int {
	return tp.q.Limit()
}

// Nonce returns the next relayer nonce, false before it is loaded from the node
func (tp *TransactionPool) Nonce() (uint64, bool) {
	tp.Lock()
	defer tp.Unlock()

	return tp.nonce, tp.nonceLoaded
}

// IsQueued checks that the correlation id is waiting in the pool
func (tp *TransactionPool) IsQueued(correlationID common.Hash) bool {
	return tp.q.Has(correlationID)
}

// Enqueue appends the submission without blocking
func (tp *TransactionPool) Enqueue(sub *forwarder.Submission) (*Handle, error) {
	cid := sub.CorrelationID()

	tp.Lock()
	if tp.closed {
		tp.Unlock()
		return nil, errors.WithStack(rcommon.ErrQueueClosed)
	}
	h := newHandle(cid, tp.seq+1)
	if err := tp.q.Push(cid, &poolItem{sub: sub, handle: h}); err != nil {
		tp.Unlock()
		switch err {
		case queue.ErrExistKey:
			return nil, errors.Wrap(rcommon.ErrDuplicateSubmission, cid.Hex())
		case queue.ErrFullQueue:
			return nil, errors.WithStack(rcommon.ErrOverloaded)
		default:
			return nil, errors.WithStack(err)
		}
	}
	tp.seq++
	tp.Unlock()

	select {
	case tp.notify <- struct{}{}:
	default:
	}
	return h, nil
}

// Cancel removes a submission that is still waiting.
// It returns false when the submission was already popped.
func (tp *TransactionPool) Cancel(correlationID common.Hash) bool {
	v := tp.q.Remove(correlationID)
	if v == nil {
		return false
	}
	v.(*poolItem).handle.resolve(nil, errors.WithStack(rcommon.ErrCanceled))
	return true
}

// Run drains the pool until the context is done.
// Submissions still waiting at that point resolve with ErrQueueClosed.
func (tp *TransactionPool) Run(ctx context.Context) error {
	tp.Lock()
	if tp.running {
		tp.Unlock()
		return errors.WithStack(ErrAlreadyRunning)
	}
	tp.running = true
	tp.Unlock()

	defer tp.close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if v := tp.q.Pop(); v != nil {
			tp.process(ctx, v.(*poolItem))
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tp.notify:
		}
	}
}

func (tp *TransactionPool) close() {
	tp.Lock()
	tp.closed = true
	tp.Unlock()

	for {
		v := tp.q.Pop()
		if v == nil {
			return
		}
		v.(*poolItem).handle.resolve(nil, errors.WithStack(rcommon.ErrQueueClosed))
	}
}

func (tp *TransactionPool) currentNonce(ctx context.Context) (uint64, error) {
	tp.Lock()
	if tp.nonceLoaded {
		n := tp.nonce
		tp.Unlock()
		return n, nil
	}
	tp.Unlock()

	n, err := tp.submitter.PendingNonce(ctx)
	if err != nil {
		return 0, err
	}
	tp.Lock()
	tp.nonce = n
	tp.nonceLoaded = true
	tp.Unlock()
	return n, nil
}

func (tp *TransactionPool) setNonce(n uint64, loaded bool) {
	tp.Lock()
	defer tp.Unlock()

	tp.nonce = n
	tp.nonceLoaded = loaded
}

func (tp *TransactionPool) process(ctx context.Context, it *poolItem) {
	cid := it.handle.ID
	n, err := tp.currentNonce(ctx)
	if err != nil {
		tp.log.Error().Err(err).Str("correlation", cid.Hex()).Msg("load relayer nonce")
		it.handle.resolve(nil, errors.Wrap(rcommon.ErrBroadcastFailed, err.Error()))
		return
	}

	rec, err := tp.submitter.Submit(ctx, it.sub, n)
	if err != nil {
		if rec == nil || !tp.sentDespite(ctx, rec.Hash, n) {
			tp.log.Warn().Err(err).Uint64("nonce", n).Str("correlation", cid.Hex()).Msg("broadcast failed")
			if !errors.Is(err, rcommon.ErrBroadcastFailed) {
				err = errors.Wrap(rcommon.ErrBroadcastFailed, err.Error())
			}
			it.handle.resolve(nil, err)
			return
		}
		tp.log.Warn().Err(err).Uint64("nonce", n).Str("tx", rec.Hash.Hex()).Msg("send reported an error but the node holds the transaction")
	}
	tp.setNonce(n+1, true)

	if err := tp.recorder.RecordPending(cid, rec.Hash, n, it.sub.Sponsor); err != nil {
		tp.log.Error().Err(err).Str("tx", rec.Hash.Hex()).Msg("record pending")
	}
	tp.log.Info().Uint64("nonce", n).Str("tx", rec.Hash.Hex()).Str("correlation", cid.Hex()).Msg("broadcast")
	it.handle.resolve(rec.Clone(), nil)
	if tp.confirm != nil {
		tp.confirm(rec.Clone())
	}
}

// sentDespite reports whether the node holds the transaction although the send failed.
// A node nonce past n without the transaction means n was taken by another sender,
// so the pool follows the node. Unknown answers reload the nonce before the next submission.
func (tp *TransactionPool) sentDespite(ctx context.Context, hash common.Hash, n uint64) bool {
	known, err := tp.submitter.Known(ctx, hash)
	if err == nil && known {
		return true
	}
	pn, perr := tp.submitter.PendingNonce(ctx)
	switch {
	case err != nil || perr != nil:
		tp.setNonce(n, false)
	case pn > n:
		tp.log.Warn().Uint64("nonce", n).Uint64("node", pn).Msg("relayer nonce taken outside the pool")
		tp.setNonce(pn, true)
	}
	return false
}
