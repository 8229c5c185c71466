package forwarder

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
)

// ABIJSON is the subset of the forwarder interface used by the relayer
const ABIJSON = `[
	{"type":"function","name":"verify","stateMutability":"view",
	 "inputs":[` + requestTupleJSON + `,{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"from","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"execute","stateMutability":"payable",
	 "inputs":[` + requestTupleJSON + `,{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"success","type":"bool"},{"name":"ret","type":"bytes"}]}
]`

const requestTupleJSON = `{"name":"req","type":"tuple","components":[
	{"name":"from","type":"address"},
	{"name":"to","type":"address"},
	{"name":"value","type":"uint256"},
	{"name":"gas","type":"uint256"},
	{"name":"nonce","type":"uint256"},
	{"name":"data","type":"bytes"}]}`

var forwarderABI abi.ABI

func init() {
	a, err := abi.JSON(strings.NewReader(ABIJSON))
	if err != nil {
		panic(err)
	}
	forwarderABI = a
}

// ABI returns the parsed forwarder abi
func ABI() abi.ABI {
	return forwarderABI
}

// Contract is the forwarder as seen by the relayer
type Contract interface {
	Address() common.Address
	Verify(ctx context.Context, req *Request, signature []byte) (bool, error)
	GetNonce(ctx context.Context, from common.Address) (*big.Int, error)
	PackExecute(req *Request, signature []byte) ([]byte, error)
}

// Client calls the forwarder through a contract caller such as ethclient
type Client struct {
	address common.Address
	caller  ethereum.ContractCaller
}

// NewClient returns a Client
func NewClient(address common.Address, caller ethereum.ContractCaller) *Client {
	return &Client{
		address: address,
		caller:  caller,
	}
}

// Address returns the forwarder address
func (c *Client) Address() common.Address {
	return c.address
}

// Verify returns the forwarder's answer for the signature.
// false means invalid, a call failure is ErrOracle.
func (c *Client) Verify(ctx context.Context, req *Request, signature []byte) (bool, error) {
	out, err := c.call(ctx, "verify", req, signature)
	if err != nil {
		return false, err
	}
	ok, is := out[0].(bool)
	if !is {
		return false, errors.Wrap(rcommon.ErrOracle, "verify returned a non bool")
	}
	return ok, nil
}

// GetNonce returns the forwarder nonce of the account
func (c *Client) GetNonce(ctx context.Context, from common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "getNonce", from)
	if err != nil {
		return nil, err
	}
	n, is := out[0].(*big.Int)
	if !is {
		return nil, errors.Wrap(rcommon.ErrOracle, "getNonce returned a non integer")
	}
	return n, nil
}

// PackExecute returns the calldata of execute(req, signature)
func (c *Client) PackExecute(req *Request, signature []byte) ([]byte, error) {
	return PackExecute(req, signature)
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := forwarderABI.Pack(method, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	to := c.address
	bs, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, errors.Wrapf(rcommon.ErrOracle, "%v: %v", method, err)
	}
	out, err := forwarderABI.Unpack(method, bs)
	if err != nil {
		return nil, errors.Wrapf(rcommon.ErrOracle, "%v: %v", method, err)
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(rcommon.ErrOracle, "%v: empty result", method)
	}
	return out, nil
}

// PackExecute returns the calldata of execute(req, signature)
func PackExecute(req *Request, signature []byte) ([]byte, error) {
	bs, err := forwarderABI.Pack("execute", req, signature)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return bs, nil
}

// UnpackExecute decodes execute calldata back into the request and signature
func UnpackExecute(input []byte) (*Request, []byte, error) {
	m := forwarderABI.Methods["execute"]
	if len(input) < 4 || string(input[:4]) != string(m.ID) {
		return nil, nil, errors.New("not an execute call")
	}
	args, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if len(args) != 2 {
		return nil, nil, errors.New("invalid execute arguments")
	}
	// the unpacked tuple is an anonymous struct with the fields of Request
	req := abi.ConvertType(args[0], Request{}).(Request)
	sig, _ := args[1].([]byte)
	return &req, sig, nil
}
