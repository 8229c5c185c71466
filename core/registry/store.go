package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/types"
)

// Store keeps the records of the registry.
// Calls are serialized by the Registry.
type Store interface {
	Get(hash common.Hash) (*types.Record, error)
	HashByCorrelation(correlationID common.Hash) (common.Hash, error)
	Put(rec *types.Record) error
	Pending() ([]*types.Record, error)
	Close() error
}

// MemoryStore keeps records in maps. They are lost on restart.
type MemoryStore struct {
	records     map[common.Hash]*types.Record
	correlation map[common.Hash]common.Hash
}

// NewMemoryStore returns a MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     map[common.Hash]*types.Record{},
		correlation: map[common.Hash]common.Hash{},
	}
}

// Get returns the record of the transaction hash
func (s *MemoryStore) Get(hash common.Hash) (*types.Record, error) {
	rec, has := s.records[hash]
	if !has {
		return nil, errors.Wrap(rcommon.ErrNotFound, hash.Hex())
	}
	return rec.Clone(), nil
}

// HashByCorrelation returns the transaction hash of the correlation id
func (s *MemoryStore) HashByCorrelation(correlationID common.Hash) (common.Hash, error) {
	h, has := s.correlation[correlationID]
	if !has {
		return common.Hash{}, errors.Wrap(rcommon.ErrNotFound, correlationID.Hex())
	}
	return h, nil
}

// Put stores the record
func (s *MemoryStore) Put(rec *types.Record) error {
	s.records[rec.Hash] = rec.Clone()
	s.correlation[rec.CorrelationID] = rec.Hash
	return nil
}

// Pending returns the records that are not terminal
func (s *MemoryStore) Pending() ([]*types.Record, error) {
	list := []*types.Record{}
	for _, rec := range s.records {
		if !rec.Status.IsTerminal() {
			list = append(list, rec.Clone())
		}
	}
	return list, nil
}

// Close does nothing
func (s *MemoryStore) Close() error {
	return nil
}
