package types

import (
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// recordForStorage is the rlp form of the Record
// optional receipt fields are kept with the HasReceipt flag
type recordForStorage struct {
	Hash          common.Hash
	CorrelationID common.Hash
	Status        uint8
	HasReceipt    bool
	BlockNumber   uint64
	GasUsed       uint64
	Nonce         uint64
	Sponsor       string
	SubmittedAt   uint64
	UpdatedAt     uint64
}

// EncodeRLP implements rlp.Encoder
func (r *Record) EncodeRLP(w io.Writer) error {
	s := recordForStorage{
		Hash:          r.Hash,
		CorrelationID: r.CorrelationID,
		Status:        uint8(r.Status),
		Nonce:         r.Nonce,
		Sponsor:       r.Sponsor,
		SubmittedAt:   uint64(r.SubmittedAt.UnixNano()),
		UpdatedAt:     uint64(r.UpdatedAt.UnixNano()),
	}
	if r.BlockNumber != nil {
		s.HasReceipt = true
		s.BlockNumber = *r.BlockNumber
	}
	if r.GasUsed != nil {
		s.GasUsed = *r.GasUsed
	}
	return rlp.Encode(w, &s)
}

// DecodeRLP implements rlp.Decoder
func (r *Record) DecodeRLP(st *rlp.Stream) error {
	var s recordForStorage
	if err := st.Decode(&s); err != nil {
		return errors.WithStack(err)
	}
	if Status(s.Status) > StatusFailed {
		return errors.WithStack(ErrInvalidStatus)
	}
	*r = Record{
		Hash:          s.Hash,
		CorrelationID: s.CorrelationID,
		Status:        Status(s.Status),
		Nonce:         s.Nonce,
		Sponsor:       s.Sponsor,
		SubmittedAt:   time.Unix(0, int64(s.SubmittedAt)).UTC(),
		UpdatedAt:     time.Unix(0, int64(s.UpdatedAt)).UTC(),
	}
	if s.HasReceipt {
		bn, gu := s.BlockNumber, s.GasUsed
		r.BlockNumber = &bn
		r.GasUsed = &gu
	}
	return nil
}
