package forwarder

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	rcommon "github.com/meverselabs/relayer/common"
)

// WireSubmission is the relay body as received from a client
type WireSubmission struct {
	Request   *WireRequest `json:"request"`
	Signature string       `json:"signature"`
	Sponsor   string       `json:"sponsor,omitempty"`
}

// Submission is a normalized request with the holder's signature.
// Sponsor is advisory only and never part of the correlation id.
type Submission struct {
	Request   *Request
	Signature []byte
	Sponsor   string
}

// NewSubmission returns a submission holding copies of the request and signature
func NewSubmission(req *Request, sig []byte, sponsor string) *Submission {
	return &Submission{
		Request:   req.Copy(),
		Signature: common.CopyBytes(sig),
		Sponsor:   strings.TrimSpace(sponsor),
	}
}

// ParseSignature decodes the 0x hex signature
func ParseSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return nil, rcommon.NewValidationError("Missing field: signature")
	}
	bs, err := ParseHexBytes("signature", s)
	if err != nil || len(bs) == 0 {
		return nil, rcommon.NewValidationError("Invalid signature encoding")
	}
	return bs, nil
}

// CorrelationID returns the digest of the signed payload
func (s *Submission) CorrelationID() common.Hash {
	return CorrelationID(s.Request, s.Signature)
}

// CorrelationID is the keccak256 of the abi encoded (request, signature) pair
func CorrelationID(req *Request, sig []byte) common.Hash {
	bs, err := forwarderABI.Methods["verify"].Inputs.Pack(req, sig)
	if err != nil {
		// only a request with nil numerics fails to pack
		bs = flatEncode(req, sig)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(bs)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func flatEncode(req *Request, sig []byte) []byte {
	bs := make([]byte, 0, 40+32*3+len(req.Data)+len(sig))
	bs = append(bs, req.From.Bytes()...)
	bs = append(bs, req.To.Bytes()...)
	for _, v := range []*big.Int{req.Value, req.Gas, req.Nonce} {
		var word []byte
		if v != nil {
			word = v.Bytes()
		}
		bs = append(bs, common.LeftPadBytes(word, 32)...)
	}
	bs = append(bs, req.Data...)
	bs = append(bs, sig...)
	return bs
}
