package apiserver

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// Argument parses rpc arguments
type Argument struct {
	args []interface{}
}

// NewArgument returns a Argument
func NewArgument(args []interface{}) *Argument {
	arg := &Argument{
		args: args,
	}
	return arg
}

// Len returns length of arguments
func (arg *Argument) Len() int {
	return len(arg.args)
}

func (arg *Argument) get(index int) (interface{}, error) {
	if index < 0 || index >= len(arg.args) {
		return nil, errors.WithStack(ErrInvalidArgumentIndex)
	}
	a := arg.args[index]
	if a == nil {
		return nil, errors.WithStack(ErrInvalidArgumentType)
	}
	return a, nil
}

// Uint64 returns a uint64 value of the index
func (arg *Argument) Uint64(index int) (uint64, error) {
	a, err := arg.get(index)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(fmt.Sprintf("%v", a), 10, 64)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return n, nil
}

// String returns a string value of the index
func (arg *Argument) String(index int) (string, error) {
	a, err := arg.get(index)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", a), nil
}

// Hash returns a 32 byte hash of the index
func (arg *Argument) Hash(index int) (common.Hash, error) {
	s, err := arg.String(index)
	if err != nil {
		return common.Hash{}, err
	}
	return ParseHash(s)
}

// Address returns an address of the index
func (arg *Argument) Address(index int) (common.Address, error) {
	s, err := arg.String(index)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrap(ErrInvalidArgument, s)
	}
	return common.HexToAddress(s), nil
}

// Decode converts the object of the index into v
func (arg *Argument) Decode(index int, v interface{}) error {
	a, err := arg.get(index)
	if err != nil {
		return err
	}
	bs, err := json.Marshal(a)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := json.Unmarshal(bs, v); err != nil {
		return errors.Wrap(ErrInvalidArgumentType, err.Error())
	}
	return nil
}

// ParseHash parses a 0x prefixed 32 byte hex hash
func ParseHash(s string) (common.Hash, error) {
	bs, err := hexutil.Decode(s)
	if err != nil || len(bs) != common.HashLength {
		return common.Hash{}, errors.WithStack(ErrInvalidHash)
	}
	return common.BytesToHash(bs), nil
}
