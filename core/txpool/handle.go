package txpool

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/meverselabs/relayer/core/types"
)

// Handle follows one enqueued submission until it is broadcast or rejected
type Handle struct {
	ID   common.Hash
	Seq  uint64
	once sync.Once
	done chan struct{}
	rec  *types.Record
	err  error
}

func newHandle(id common.Hash, seq uint64) *Handle {
	return &Handle{
		ID:   id,
		Seq:  seq,
		done: make(chan struct{}),
	}
}

func (h *Handle) resolve(rec *types.Record, err error) {
	h.once.Do(func() {
		h.rec = rec
		h.err = err
		close(h.done)
	})
}

// Done is closed when the result is available
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the result is available or the context is done
func (h *Handle) Wait(ctx context.Context) (*types.Record, error) {
	select {
	case <-h.done:
		return h.rec, h.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Result returns the pending record of the broadcast transaction
func (h *Handle) Result() (*types.Record, error) {
	select {
	case <-h.done:
		return h.rec, h.err
	default:
		return nil, ErrNotResolved
	}
}
