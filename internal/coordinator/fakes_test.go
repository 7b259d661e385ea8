package coordinator

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/opacey/elements-federation/internal/rpcclient"
)

// fakeMessenger is an in-memory messenger.Messenger used to drive
// coordinator round logic deterministically in tests.
type fakeMessenger struct {
	mu             sync.Mutex
	blocks         map[int64]string
	sigs           map[int64][]string
	reconnectCalls int
	producedBlocks []int64
	producedSigs   []int64
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		blocks: make(map[int64]string),
		sigs:   make(map[int64][]string),
	}
}

func (f *fakeMessenger) ProduceBlock(height int64, blockHex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producedBlocks = append(f.producedBlocks, height)
	f.blocks[height+1] = blockHex
	return nil
}

func (f *fakeMessenger) ProduceSig(height int64, sig string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producedSigs = append(f.producedSigs, height)
	f.sigs[height+1] = append(f.sigs[height+1], sig)
	return nil
}

func (f *fakeMessenger) ConsumeBlock(height int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.blocks[height+1]
	if ok {
		delete(f.blocks, height+1)
	}
	return block, ok
}

func (f *fakeMessenger) ConsumeSigs(height int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sigs := f.sigs[height+1]
	delete(f.sigs, height+1)
	return sigs
}

func (f *fakeMessenger) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectCalls++
}

func (f *fakeMessenger) Close() error { return nil }

func (f *fakeMessenger) injectSig(height int64, sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigs[height+1] = append(f.sigs[height+1], sig)
}

// fakeDaemon is a minimal JSON-RPC 1.0 daemon double. handlers maps method
// name to a function producing the JSON-marshalable result.
type fakeDaemon struct {
	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (interface{}, error)
	calls    []string
}

func newFakeDaemon(t *testing.T) (*rpcclient.Client, *fakeDaemon) {
	t.Helper()
	fd := &fakeDaemon{handlers: make(map[string]func(json.RawMessage) (interface{}, error))}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fd.mu.Lock()
		fd.calls = append(fd.calls, req.Method)
		handler, ok := fd.handlers[req.Method]
		fd.mu.Unlock()

		if !ok {
			t.Fatalf("fakeDaemon: unhandled method %q", req.Method)
		}
		result, err := handler(req.Params)

		type rpcErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		resp := struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result,omitempty"`
			Error  *rpcErr         `json:"error"`
		}{ID: req.ID}

		if err != nil {
			resp.Error = &rpcErr{Code: -1, Message: err.Error()}
		} else {
			raw, marshalErr := json.Marshal(result)
			require.NoError(t, marshalErr)
			resp.Result = raw
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	parts := strings.Split(strings.TrimPrefix(srv.URL, "http://"), ":")
	port, err := strconv.Atoi(parts[1])
	require.NoError(t, err)

	return rpcclient.New(parts[0], port, "user", "pass", 2*time.Second), fd
}

// newUnreachableRPCClient returns an rpcclient.Client pointed at a port
// nothing listens on, so every call fails with a connection-refused
// transport error (errkind.RPCTransport).
func newUnreachableRPCClient(t *testing.T) *rpcclient.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return rpcclient.New("127.0.0.1", addr.Port, "user", "pass", 200*time.Millisecond)
}

func (fd *fakeDaemon) on(method string, fn func(params json.RawMessage) (interface{}, error)) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.handlers[method] = fn
}

func (fd *fakeDaemon) callCount(method string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n := 0
	for _, m := range fd.calls {
		if m == method {
			n++
		}
	}
	return n
}

// buildMultisig constructs an OP_m <pubkey>... OP_n OP_CHECKMULTISIG
// redeem script hex from the given compressed public keys.
func buildMultisig(m int, pubKeys [][]byte) string {
	script := []byte{opCode(m)}
	for _, pk := range pubKeys {
		script = append(script, byte(len(pk)))
		script = append(script, pk...)
	}
	script = append(script, opCode(len(pubKeys)), 0xae)
	return hex.EncodeToString(script)
}

func opCode(n int) byte {
	if n == 0 {
		return 0x00
	}
	return byte(0x50 + n)
}

// signWithKey produces a DER-encoded ECDSA signature over blockHex's
// sha256 digest under privKey, matching coordinator's blockHash derivation.
func signWithKey(t *testing.T, privKey *secp256k1.PrivateKey, blockHex string) string {
	t.Helper()
	hash, err := blockHash(blockHex)
	require.NoError(t, err)
	sig := ecdsa.Sign(privKey, hash)
	return hex.EncodeToString(sig.Serialize())
}
