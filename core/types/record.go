package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
)

// Status is the lifecycle state of a relayed transaction
type Status uint8

// statuses
const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

// ErrInvalidStatus is returned when parsing an unknown status
var ErrInvalidStatus = errors.New("invalid status")

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// IsTerminal returns true for confirmed and failed
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ParseStatus parses the status name
func ParseStatus(str string) (Status, error) {
	switch strings.ToLower(str) {
	case "pending":
		return StatusPending, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "failed":
		return StatusFailed, nil
	}
	return StatusPending, errors.Wrap(ErrInvalidStatus, str)
}

// MarshalJSON is a marshaler function
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is a unmarshaler function
func (s *Status) UnmarshalJSON(bs []byte) error {
	var str string
	if err := json.Unmarshal(bs, &str); err != nil {
		return errors.WithStack(err)
	}
	v, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Record tracks one broadcast forwarder transaction
type Record struct {
	Hash          common.Hash `json:"hash"`
	CorrelationID common.Hash `json:"correlationId"`
	Status        Status      `json:"status"`
	BlockNumber   *uint64     `json:"blockNumber,omitempty"`
	GasUsed       *uint64     `json:"gasUsed,omitempty"`
	Nonce         uint64      `json:"relayerNonce"`
	Sponsor       string      `json:"sponsor,omitempty"`
	SubmittedAt   time.Time   `json:"submittedAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	if r.BlockNumber != nil {
		v := *r.BlockNumber
		c.BlockNumber = &v
	}
	if r.GasUsed != nil {
		v := *r.GasUsed
		c.GasUsed = &v
	}
	return &c
}

// Err returns ErrReverted for a failed record
func (r *Record) Err() error {
	if r.Status == StatusFailed {
		return errors.Wrap(rcommon.ErrReverted, r.Hash.Hex())
	}
	return nil
}

// Outcome is the terminal state observed from a receipt
type Outcome struct {
	Status      Status
	BlockNumber uint64
	GasUsed     uint64
}

// OutcomeFromReceipt converts the receipt of the forwarder call
func OutcomeFromReceipt(receipt *etypes.Receipt) Outcome {
	o := Outcome{
		Status:  StatusFailed,
		GasUsed: receipt.GasUsed,
	}
	if receipt.Status == etypes.ReceiptStatusSuccessful {
		o.Status = StatusConfirmed
	}
	if receipt.BlockNumber != nil {
		o.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return o
}

// Apply returns a copy of the record moved to the outcome
func (r *Record) Apply(o Outcome, now time.Time) *Record {
	c := r.Clone()
	c.Status = o.Status
	bn, gu := o.BlockNumber, o.GasUsed
	c.BlockNumber = &bn
	c.GasUsed = &gu
	c.UpdatedAt = now
	return c
}

// SameOutcome checks that the record already holds the outcome
func (r *Record) SameOutcome(o Outcome) bool {
	if r.Status != o.Status {
		return false
	}
	if r.BlockNumber != nil && *r.BlockNumber != o.BlockNumber {
		return false
	}
	return true
}
