package chainmock

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/meverselabs/relayer/core/forwarder"
)

// Forwarder is a mocked forwarder contract.
// Verify and GetNonce are recorded without the context.
type Forwarder struct {
	mock.Mock
	Addr common.Address
}

// NewForwarder returns a Forwarder at the address
func NewForwarder(addr common.Address) *Forwarder {
	return &Forwarder{Addr: addr}
}

// Address returns the forwarder address
func (f *Forwarder) Address() common.Address {
	return f.Addr
}

// Verify returns the programmed answer
func (f *Forwarder) Verify(ctx context.Context, req *forwarder.Request, signature []byte) (bool, error) {
	args := f.Called(req, signature)
	return args.Bool(0), args.Error(1)
}

// GetNonce returns the programmed nonce
func (f *Forwarder) GetNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	args := f.Called(from)
	n, _ := args.Get(0).(*big.Int)
	return n, args.Error(1)
}

// PackExecute packs the real execute calldata
func (f *Forwarder) PackExecute(req *forwarder.Request, signature []byte) ([]byte, error) {
	return forwarder.PackExecute(req, signature)
}
