package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/types"
)

// LevelStore journals records in a leveldb so pending transactions survive a restart
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens or creates the leveldb at the path
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LevelStore{db: db}, nil
}

// Get returns the record of the transaction hash
func (s *LevelStore) Get(hash common.Hash) (*types.Record, error) {
	bs, err := s.db.Get(toKey(tagRecord, hash), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, errors.Wrap(rcommon.ErrNotFound, hash.Hex())
		}
		return nil, errors.WithStack(err)
	}
	var rec types.Record
	if err := rlp.DecodeBytes(bs, &rec); err != nil {
		return nil, errors.WithStack(err)
	}
	return &rec, nil
}

// HashByCorrelation returns the transaction hash of the correlation id
func (s *LevelStore) HashByCorrelation(correlationID common.Hash) (common.Hash, error) {
	bs, err := s.db.Get(toKey(tagCorrelation, correlationID), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return common.Hash{}, errors.Wrap(rcommon.ErrNotFound, correlationID.Hex())
		}
		return common.Hash{}, errors.WithStack(err)
	}
	return common.BytesToHash(bs), nil
}

// Put writes the record and its indexes in one batch
func (s *LevelStore) Put(rec *types.Record) error {
	bs, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return errors.WithStack(err)
	}
	batch := new(leveldb.Batch)
	batch.Put(toKey(tagRecord, rec.Hash), bs)
	batch.Put(toKey(tagCorrelation, rec.CorrelationID), rec.Hash[:])
	if rec.Status.IsTerminal() {
		batch.Delete(toKey(tagPending, rec.Hash))
	} else {
		batch.Put(toKey(tagPending, rec.Hash), []byte{})
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Pending returns the records that are not terminal
func (s *LevelStore) Pending() ([]*types.Record, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{tagPending}), nil)
	defer iter.Release()

	hashes := []common.Hash{}
	for iter.Next() {
		hashes = append(hashes, common.BytesToHash(iter.Key()[1:]))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithStack(err)
	}

	list := make([]*types.Record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := s.Get(h)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, nil
}

// Close closes the leveldb
func (s *LevelStore) Close() error {
	return errors.WithStack(s.db.Close())
}
