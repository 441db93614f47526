package rpc

import (
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a JSON-RPC 2.0 client for one provider's request endpoint.
// Safe for concurrent use.
type Client struct {
	url     string
	hc      *fasthttp.Client
	timeout time.Duration
	seq     uint64
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      uint64              `json:"id"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *Error              `json:"error"`
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		hc: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout: timeout,
	}
}

func (c *Client) URL() string {
	return c.url
}

// Call issues a single JSON-RPC request and decodes the result into out.
// Node-reported errors come back as *Error.
func (c *Client) Call(method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.seq, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.hc.DoTimeout(req, res, c.timeout); err != nil {
		return err
	}

	if res.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", res.StatusCode(), c.url)
	}

	var resp response
	if err := json.Unmarshal(res.Body(), &resp); err != nil {
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}

	if out != nil {
		return json.Unmarshal(resp.Result, out)
	}

	return nil
}

func (c *Client) GetSlot() (uint64, error) {
	var slot uint64
	err := c.Call("getSlot", nil, &slot)
	return slot, err
}

func (c *Client) GetBlockHeight() (uint64, error) {
	var height uint64
	err := c.Call("getBlockHeight", nil, &height)
	return height, err
}

// GetBlock fetches the block at the given slot with signature-level
// transaction detail. A node-reported error (skipped slot, block not yet
// available, pruned history) yields a nil block with no error; callers
// treat that as "block unavailable".
func (c *Client) GetBlock(slot uint64) (*Block, error) {
	params := []interface{}{
		slot,
		map[string]interface{}{
			"transactionDetails":             "signatures",
			"rewards":                        false,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var block Block
	if err := c.Call("getBlock", params, &block); err != nil {
		if _, ok := err.(*Error); ok {
			return nil, nil
		}
		return nil, err
	}

	return &block, nil
}

func (c *Client) GetSupply() (*Supply, error) {
	params := []interface{}{
		map[string]interface{}{"excludeNonCirculatingAccountsList": true},
	}

	var env valueEnvelope[Supply]
	if err := c.Call("getSupply", params, &env); err != nil {
		return nil, err
	}

	return &env.Value, nil
}

func (c *Client) GetEpochInfo() (*EpochInfo, error) {
	var info EpochInfo
	if err := c.Call("getEpochInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetAccountInfo returns nil with no error when the account does not
// exist.
func (c *Client) GetAccountInfo(pubkey string) (*Account, error) {
	params := []interface{}{
		pubkey,
		map[string]interface{}{"encoding": "base64"},
	}

	var env valueEnvelope[*Account]
	if err := c.Call("getAccountInfo", params, &env); err != nil {
		return nil, err
	}

	return env.Value, nil
}

// GetProgramAccounts fetches accounts owned by the program, truncated to
// limit. Account data is elided server-side; only ownership matters here.
func (c *Client) GetProgramAccounts(programID string, limit int) ([]ProgramAccount, error) {
	params := []interface{}{
		programID,
		map[string]interface{}{
			"encoding":  "base64",
			"dataSlice": map[string]interface{}{"offset": 0, "length": 0},
		},
	}

	var accounts []ProgramAccount
	if err := c.Call("getProgramAccounts", params, &accounts); err != nil {
		return nil, err
	}

	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}

	return accounts, nil
}
