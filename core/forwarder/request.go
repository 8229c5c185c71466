package forwarder

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
)

// Quantity is a numeric wire field given as a JSON string (decimal or 0x hex) or a JSON number
type Quantity string

// UnmarshalJSON is a unmarshaler function
func (q *Quantity) UnmarshalJSON(bs []byte) error {
	s := strings.TrimSpace(string(bs))
	if s == "null" {
		*q = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(bs, &str); err != nil {
			return errors.WithStack(err)
		}
		*q = Quantity(str)
		return nil
	}
	*q = Quantity(s)
	return nil
}

// WireRequest is the forward request as received from a client
type WireRequest struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Value Quantity `json:"value"`
	Gas   Quantity `json:"gas"`
	Nonce Quantity `json:"nonce"`
	Data  string   `json:"data"`
}

// Request is the normalized forward request.
// The field names match the components of the forwarder's request tuple.
type Request struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Gas   *big.Int
	Nonce *big.Int
	Data  []byte
}

// Copy returns a deep copy of the request
func (r *Request) Copy() *Request {
	c := &Request{
		From: r.From,
		To:   r.To,
		Data: common.CopyBytes(r.Data),
	}
	if r.Value != nil {
		c.Value = new(big.Int).Set(r.Value)
	}
	if r.Gas != nil {
		c.Gas = new(big.Int).Set(r.Gas)
	}
	if r.Nonce != nil {
		c.Nonce = new(big.Int).Set(r.Nonce)
	}
	return c
}

// Wire returns the wire form of the request
func (r *Request) Wire() WireRequest {
	return WireRequest{
		From:  r.From.Hex(),
		To:    r.To.Hex(),
		Value: Quantity(r.Value.String()),
		Gas:   Quantity(r.Gas.String()),
		Nonce: Quantity(r.Nonce.String()),
		Data:  hexutil.Encode(r.Data),
	}
}

// Normalize parses the wire request into a new Request.
// The wire value is never modified. Failures are ValidationErrors.
func Normalize(w *WireRequest) (*Request, error) {
	if w == nil {
		return nil, rcommon.NewValidationError("Missing field: request")
	}
	from, err := parseAddress("from", w.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", w.To)
	if err != nil {
		return nil, err
	}
	value, err := parseQuantity("value", w.Value)
	if err != nil {
		return nil, err
	}
	gas, err := parseQuantity("gas", w.Gas)
	if err != nil {
		return nil, err
	}
	nonce, err := parseQuantity("nonce", w.Nonce)
	if err != nil {
		return nil, err
	}
	data, err := ParseHexBytes("data", w.Data)
	if err != nil {
		return nil, err
	}
	return &Request{
		From:  from,
		To:    to,
		Value: value,
		Gas:   gas,
		Nonce: nonce,
		Data:  data,
	}, nil
}

// IsAddress checks the 20 byte hex form and the EIP-55 checksum of mixed case input
func IsAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	if !common.IsHexAddress(s) {
		return false
	}
	body := s[2:]
	if strings.ToLower(body) == body || strings.ToUpper(body) == body {
		return true
	}
	return common.HexToAddress(s).Hex() == "0x"+body
}

func parseAddress(name string, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return common.Address{}, rcommon.NewValidationError("Missing field: " + name)
	}
	if !IsAddress(s) {
		return common.Address{}, rcommon.NewValidationError("Invalid " + name + " address")
	}
	return common.HexToAddress(s), nil
}

func parseQuantity(name string, q Quantity) (*big.Int, error) {
	s := strings.TrimSpace(string(q))
	if len(s) == 0 {
		return nil, rcommon.NewValidationError("Missing field: " + name)
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, rcommon.NewValidationError("Invalid " + name)
	}
	return v, nil
}

// ParseHexBytes decodes a 0x prefixed hex field
func ParseHexBytes(name string, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return nil, rcommon.NewValidationError("Missing field: " + name)
	}
	bs, err := hexutil.Decode(s)
	if err != nil {
		return nil, rcommon.NewValidationError("Invalid " + name)
	}
	return bs, nil
}
