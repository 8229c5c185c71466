package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
	"github.com/meverselabs/relayer/service/apiserver"
	"github.com/meverselabs/relayer/service/relay"
)

// ErrUnexpectedStatus is returned for an answer the client does not understand
var ErrUnexpectedStatus = errors.New("unexpected http status")

// Client talks to the relayer http api
type Client struct {
	hostURL string
	hc      *http.Client
}

// New returns a Client of the host url such as http://localhost:3002
func New(hostURL string) *Client {
	return &Client{
		hostURL: strings.TrimSuffix(hostURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// Relay submits the signed request. Rejections are returned as outcomes, not errors.
func (c *Client) Relay(ctx context.Context, w *forwarder.WireSubmission) (*relay.Outcome, error) {
	var out relay.Outcome
	if _, err := c.do(ctx, http.MethodPost, "/relay", w, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the record of the transaction. ErrNotFound means the relayer knows nothing yet.
func (c *Client) Status(ctx context.Context, hash common.Hash) (*types.Record, error) {
	var rec types.Record
	code, err := c.do(ctx, http.MethodGet, "/status/"+hash.Hex(), nil, &rec)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		return nil, errors.Wrap(rcommon.ErrNotFound, hash.Hex())
	}
	return &rec, nil
}

// Info returns the relayer account summary
func (c *Client) Info(ctx context.Context) (*relay.Info, error) {
	var info relay.Info
	if _, err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health returns the chain id reported by the health check
func (c *Client) Health(ctx context.Context) (uint64, error) {
	var body struct {
		Status  string `json:"status"`
		ChainID uint64 `json:"chainId"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &body); err != nil {
		return 0, err
	}
	return body.ChainID, nil
}

// DoRequest calls a json rpc method
func (c *Client) DoRequest(ctx context.Context, Method string, Params []interface{}) (interface{}, error) {
	req := &apiserver.JRPCRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  Method,
		Params:  Params,
	}
	var res apiserver.JRPCResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/endpoints/http", req, &res); err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, errors.New(fmt.Sprint(res.Error))
	}
	return res.Result, nil
}

// Nonce returns the forwarder nonce expected for the signer
func (c *Client) Nonce(ctx context.Context, addr common.Address) (*big.Int, error) {
	res, err := c.DoRequest(ctx, "relay.nonce", []interface{}{addr.Hex()})
	if err != nil {
		return nil, err
	}
	str, ok := res.(string)
	if !ok {
		return nil, errors.Errorf("invalid nonce result %v", res)
	}
	n, ok := new(big.Int).SetString(str, 10)
	if !ok {
		return nil, errors.Errorf("invalid nonce result %v", str)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) (int, error) {
	var bs []byte
	if body != nil {
		var err error
		bs, err = json.Marshal(body)
		if err != nil {
			return 0, errors.WithStack(err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.hostURL+path, bytes.NewReader(bs))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return 0, errors.Wrap(rcommon.ErrNetwork, err.Error())
	}
	defer res.Body.Close()

	isRelay := path == "/relay"
	switch {
	case res.StatusCode == http.StatusOK:
	case isRelay && res.StatusCode >= 400 && res.StatusCode < 600:
		// relay rejections carry an outcome body
	case res.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/status/"):
		return res.StatusCode, nil
	default:
		var eb struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&eb); err != nil || len(eb.Error) == 0 {
			return res.StatusCode, errors.Wrapf(ErrUnexpectedStatus, "%v", res.StatusCode)
		}
		return res.StatusCode, errors.New(eb.Error)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return res.StatusCode, errors.WithStack(err)
	}
	return res.StatusCode, nil
}
