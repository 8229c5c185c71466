package registry

import "github.com/ethereum/go-ethereum/common"

// tags
var (
	tagRecord      = byte(0x10)
	tagCorrelation = byte(0x20)
	tagPending     = byte(0x30)
)

func toKey(tag byte, h common.Hash) []byte {
	bs := make([]byte, 1+common.HashLength)
	bs[0] = tag
	copy(bs[1:], h[:])
	return bs
}
