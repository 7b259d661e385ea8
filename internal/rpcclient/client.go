// Package rpcclient is a synchronous JSON-RPC 1.0 client for the local
// chain daemon (spec.md §4.1, §6). Every method is a thin typed wrapper
// around a single named RPC call; none of them retry internally — the
// coordinator owns retry/abandon policy.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opacey/elements-federation/internal/errkind"
)

// Client is a JSON-RPC 1.0 HTTP client with basic authentication, matching
// the wire protocol spec.md §6 mandates for the chain daemon. It is built
// on net/http and encoding/json directly: no JSON-RPC 1.0 client library
// appears anywhere in the retrieved reference corpus, so this boundary is
// intentionally standard-library (see DESIGN.md).
type Client struct {
	endpoint   string
	user       string
	password   string
	httpClient *http.Client
	nextID     int
}

// New creates a Client pointed at the daemon's RPC endpoint.
func New(host string, port int, user, password string, timeout time.Duration) *Client {
	return &Client{
		endpoint: fmt.Sprintf("http://%s:%d/", host, port),
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type request struct {
	Version string        `json:"jsonrpc,omitempty"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC 1.0 request and decodes result into out (which
// may be nil if the caller does not need the result body).
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.nextID++
	req := request{ID: c.nextID, Method: method, Params: params}
	if req.Params == nil {
		req.Params = []interface{}{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("%s: %w", method, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("%s: read response: %w", method, err))
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("%s: unauthorized", method))
	}
	if httpResp.StatusCode >= 500 {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("%s: daemon returned %d", method, httpResp.StatusCode))
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return errkind.Wrap(errkind.RPCTransport, fmt.Errorf("%s: decode response: %w", method, err))
	}
	if resp.Error != nil {
		return errkind.Wrap(errkind.RPCApplication, fmt.Errorf("%s: %w", method, resp.Error))
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errkind.Wrap(errkind.RPCApplication, fmt.Errorf("%s: decode result: %w", method, err))
		}
	}
	return nil
}

// GetBlockCount returns the current chain height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	err := c.call(ctx, "getblockcount", nil, &height)
	return height, err
}

// GetNewBlockHex asks the daemon to assemble an unsigned block template.
func (c *Client) GetNewBlockHex(ctx context.Context) (string, error) {
	var hex string
	err := c.call(ctx, "getnewblockhex", nil, &hex)
	return hex, err
}

// TestProposedBlock validates a received candidate block without adding it
// to the chain.
func (c *Client) TestProposedBlock(ctx context.Context, blockHex string) error {
	return c.call(ctx, "testproposedblock", []interface{}{blockHex}, nil)
}

// SignBlock produces this node's partial signature over the block (the
// software-signer path; the HSM path never calls this — see internal/signer).
func (c *Client) SignBlock(ctx context.Context, blockHex string) (string, error) {
	var sig string
	err := c.call(ctx, "signblock", []interface{}{blockHex}, &sig)
	return sig, err
}

// CombineBlockSigs assembles the final signed block from the collected
// partial signatures.
func (c *Client) CombineBlockSigs(ctx context.Context, blockHex string, sigs []string, redeemScript string) (string, error) {
	var combined string
	err := c.call(ctx, "combineblocksigs", []interface{}{blockHex, sigs, redeemScript}, &combined)
	return combined, err
}

// SubmitBlock submits a fully signed block to the daemon.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	return c.call(ctx, "submitblock", []interface{}{blockHex}, nil)
}

// SendRawTransaction broadcasts the reissuance transaction.
func (c *Client) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var txid string
	err := c.call(ctx, "sendrawtransaction", []interface{}{txHex}, &txid)
	return txid, err
}

// WalletPassphrase unlocks the wallet for seconds duration.
func (c *Client) WalletPassphrase(ctx context.Context, passphrase string, seconds int) error {
	if passphrase == "" {
		return nil
	}
	return c.call(ctx, "walletpassphrase", []interface{}{passphrase, seconds}, nil)
}

// Unspent is one entry returned by ListUnspent.
type Unspent struct {
	TxID          string  `json:"txid"`
	Vout          int     `json:"vout"`
	Amount        float64 `json:"amount"`
	Asset         string  `json:"asset"`
	ScriptPubKey  string  `json:"scriptPubKey"`
}

// ListUnspent lists unspent outputs with at least minConf confirmations,
// restricted to addresses when that list is non-empty. The inflation
// engine uses it to find the reissuance-token output it funds from.
func (c *Client) ListUnspent(ctx context.Context, minConf int, addresses []string) ([]Unspent, error) {
	var unspent []Unspent
	err := c.call(ctx, "listunspent", []interface{}{minConf, 9999999, addresses}, &unspent)
	return unspent, err
}

// CreateRawTransaction builds an unsigned raw transaction from the given
// inputs and outputs (used to build the reissuance transaction).
func (c *Client) CreateRawTransaction(ctx context.Context, inputs []map[string]interface{}, outputs map[string]interface{}) (string, error) {
	var hex string
	err := c.call(ctx, "createrawtransaction", []interface{}{inputs, outputs}, &hex)
	return hex, err
}

// FundRawTransaction asks the daemon to add inputs/change to cover fees.
func (c *Client) FundRawTransaction(ctx context.Context, txHex string) (string, error) {
	var result struct {
		Hex string `json:"hex"`
	}
	err := c.call(ctx, "fundrawtransaction", []interface{}{txHex}, &result)
	return result.Hex, err
}

// SignRawTransactionWithKey signs a raw transaction with the supplied
// reissuance private key.
func (c *Client) SignRawTransactionWithKey(ctx context.Context, txHex string, privKeys []string) (string, error) {
	var result struct {
		Hex      string `json:"hex"`
		Complete bool   `json:"complete"`
	}
	err := c.call(ctx, "signrawtransactionwithkey", []interface{}{txHex, privKeys}, &result)
	if err == nil && !result.Complete {
		return "", errkind.Wrap(errkind.RPCApplication, errors.New("signrawtransactionwithkey: incomplete signature"))
	}
	return result.Hex, err
}
