package validator

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/forwarder"
)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// Validator checks relay submissions.
// Shape checks are pure, the oracle checks call the forwarder.
type Validator struct {
	contract forwarder.Contract
	maxGas   uint64
}

// NewValidator returns a Validator. A zero maxGas disables the relay gas limit.
func NewValidator(contract forwarder.Contract, maxGas uint64) *Validator {
	return &Validator{
		contract: contract,
		maxGas:   maxGas,
	}
}

// ValidateShape normalizes and checks the request without any network access
func (v *Validator) ValidateShape(w *forwarder.WireRequest) (*forwarder.Request, error) {
	req, err := forwarder.Normalize(w)
	if err != nil {
		return nil, err
	}
	if req.From == (common.Address{}) {
		return nil, rcommon.NewValidationError("Invalid from address")
	}
	if req.Value.Sign() < 0 {
		return nil, rcommon.NewValidationError("Value must not be negative")
	}
	if req.Nonce.Sign() < 0 {
		return nil, rcommon.NewValidationError("Nonce must not be negative")
	}
	if req.Gas.Sign() <= 0 {
		return nil, rcommon.NewValidationError("Gas must be greater than 0")
	}
	if req.Gas.Cmp(maxUint64) > 0 || (v.maxGas > 0 && req.Gas.Uint64() > v.maxGas) {
		return nil, rcommon.NewValidationError("Gas exceeds relay limit")
	}
	return req, nil
}

// ValidateSubmission checks the request shape and the signature encoding
func (v *Validator) ValidateSubmission(w *forwarder.WireSubmission) (*forwarder.Submission, error) {
	if w == nil {
		return nil, rcommon.NewValidationError("Missing field: request")
	}
	req, err := v.ValidateShape(w.Request)
	if err != nil {
		return nil, err
	}
	sig, err := forwarder.ParseSignature(w.Signature)
	if err != nil {
		return nil, err
	}
	return &forwarder.Submission{
		Request:   req,
		Signature: sig,
		Sponsor:   w.Sponsor,
	}, nil
}

// VerifySignature asks the forwarder whether the signature is valid for the request.
// An unreachable forwarder is ErrOracle, never false.
func (v *Validator) VerifySignature(ctx context.Context, req *forwarder.Request, signature []byte) (bool, error) {
	ok, err := v.contract.Verify(ctx, req, signature)
	if err != nil {
		if errors.Is(err, rcommon.ErrOracle) {
			return false, err
		}
		return false, errors.Wrap(rcommon.ErrOracle, err.Error())
	}
	return ok, nil
}

// FetchExpectedNonce returns the forwarder nonce the next request of the account must carry
func (v *Validator) FetchExpectedNonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	n, err := v.contract.GetNonce(ctx, addr)
	if err != nil {
		if errors.Is(err, rcommon.ErrOracle) {
			return nil, err
		}
		return nil, errors.Wrap(rcommon.ErrOracle, err.Error())
	}
	return n, nil
}
