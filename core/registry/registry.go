package registry

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/types"
)

// Registry is the only writer of transaction records.
// A record is created pending and moves once to confirmed or failed.
type Registry struct {
	sync.RWMutex
	store    Store
	watchers map[common.Hash]map[*watcher]bool
	now      func() time.Time
	log      zerolog.Logger
}

type watcher struct {
	ch chan *types.Record
}

// NewRegistry returns a Registry over the store
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		watchers: map[common.Hash]map[*watcher]bool{},
		now:      func() time.Time { return time.Now().UTC() },
		log:      rlog.With("registry"),
	}
}

// RecordPending tracks a broadcast transaction.
// Recording the same pair again is a no-op.
func (r *Registry) RecordPending(correlationID common.Hash, hash common.Hash, nonce uint64, sponsor string) error {
	r.Lock()
	defer r.Unlock()

	if h, err := r.store.HashByCorrelation(correlationID); err == nil {
		if h == hash {
			return nil
		}
		return errors.Wrapf(rcommon.ErrDuplicateSubmission, "%v is tracked as %v", correlationID.Hex(), h.Hex())
	} else if !errors.Is(err, rcommon.ErrNotFound) {
		return err
	}
	if _, err := r.store.Get(hash); err == nil {
		return errors.Wrapf(rcommon.ErrDuplicateSubmission, "%v is already tracked", hash.Hex())
	} else if !errors.Is(err, rcommon.ErrNotFound) {
		return err
	}

	now := r.now()
	return r.store.Put(&types.Record{
		Hash:          hash,
		CorrelationID: correlationID,
		Status:        types.StatusPending,
		Nonce:         nonce,
		Sponsor:       sponsor,
		SubmittedAt:   now,
		UpdatedAt:     now,
	})
}

// RecordOutcome moves a pending record to its terminal state.
// Repeating the same terminal outcome returns the stored record.
func (r *Registry) RecordOutcome(hash common.Hash, o types.Outcome) (*types.Record, error) {
	if !o.Status.IsTerminal() {
		return nil, errors.Wrapf(rcommon.ErrInvalidTransition, "to %v", o.Status)
	}

	r.Lock()
	defer r.Unlock()

	rec, err := r.store.Get(hash)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		if rec.SameOutcome(o) {
			return rec, nil
		}
		return nil, errors.Wrapf(rcommon.ErrInvalidTransition, "%v: %v to %v", hash.Hex(), rec.Status, o.Status)
	}

	next := rec.Apply(o, r.now())
	if err := r.store.Put(next); err != nil {
		return nil, err
	}
	r.log.Info().Str("tx", hash.Hex()).Str("status", next.Status.String()).Msg("outcome")

	for w := range r.watchers[hash] {
		w.ch <- next.Clone()
		close(w.ch)
	}
	delete(r.watchers, hash)
	return next.Clone(), nil
}

// Get returns the record by transaction hash or correlation id
func (r *Registry) Get(key common.Hash) (*types.Record, bool, error) {
	r.RLock()
	defer r.RUnlock()

	rec, err := r.store.Get(key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, rcommon.ErrNotFound) {
		return nil, false, err
	}
	return r.getByCorrelation(key)
}

// GetByCorrelation returns the record of the correlation id
func (r *Registry) GetByCorrelation(correlationID common.Hash) (*types.Record, bool, error) {
	r.RLock()
	defer r.RUnlock()

	return r.getByCorrelation(correlationID)
}

func (r *Registry) getByCorrelation(correlationID common.Hash) (*types.Record, bool, error) {
	h, err := r.store.HashByCorrelation(correlationID)
	if err != nil {
		if errors.Is(err, rcommon.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec, err := r.store.Get(h)
	if err != nil {
		if errors.Is(err, rcommon.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

// Pending returns the records still waiting for a receipt
func (r *Registry) Pending() ([]*types.Record, error) {
	r.RLock()
	defer r.RUnlock()

	return r.store.Pending()
}

// Watch returns a channel that receives the terminal record of the hash and is then closed.
// The returned func stops watching.
func (r *Registry) Watch(hash common.Hash) (<-chan *types.Record, func()) {
	w := &watcher{ch: make(chan *types.Record, 1)}

	r.Lock()
	defer r.Unlock()

	if rec, err := r.store.Get(hash); err == nil && rec.Status.IsTerminal() {
		w.ch <- rec
		close(w.ch)
		return w.ch, func() {}
	}
	ws, has := r.watchers[hash]
	if !has {
		ws = map[*watcher]bool{}
		r.watchers[hash] = ws
	}
	ws[w] = true
	return w.ch, func() {
		r.Lock()
		defer r.Unlock()

		if ws, has := r.watchers[hash]; has {
			delete(ws, w)
			if len(ws) == 0 {
				delete(r.watchers, hash)
			}
		}
	}
}

// Close closes the store
func (r *Registry) Close() error {
	r.Lock()
	defer r.Unlock()

	return r.store.Close()
}
