package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opacey/elements-federation/internal/errkind"
)

func newTestServer(t *testing.T, handler func(req request) response) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := handler(req)
		resp.ID = req.ID
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(srv *httptest.Server) *Client {
	parts := strings.Split(strings.TrimPrefix(srv.URL, "http://"), ":")
	return New(parts[0], mustAtoi(parts[1]), "alice", "secret", 2*time.Second)
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestGetBlockCount(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		assert.Equal(t, "getblockcount", req.Method)
		raw, _ := json.Marshal(42)
		return response{Result: raw}
	})
	c := clientFor(srv)

	height, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), height)
}

func TestCall_ApplicationError(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		return response{Error: &rpcError{Code: -1, Message: "bad request"}}
	})
	c := clientFor(srv)

	err := c.SubmitBlock(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.Equal(t, errkind.RPCApplication, errkind.Classify(err))
}

func TestCall_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	parts := strings.Split(strings.TrimPrefix(srv.URL, "http://"), ":")
	c := New(parts[0], mustAtoi(parts[1]), "wrong", "wrong", time.Second)

	_, err := c.GetBlockCount(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.RPCTransport, errkind.Classify(err))
}

func TestWalletPassphrase_EmptyNoOp(t *testing.T) {
	c := &Client{}
	err := c.WalletPassphrase(context.Background(), "", 60)
	assert.NoError(t, err)
}

func TestSignRawTransactionWithKey_IncompleteIsApplicationError(t *testing.T) {
	srv := newTestServer(t, func(req request) response {
		raw, _ := json.Marshal(map[string]interface{}{"hex": "abcd", "complete": false})
		return response{Result: raw}
	})
	c := clientFor(srv)

	_, err := c.SignRawTransactionWithKey(context.Background(), "rawhex", []string{"privkey"})
	require.Error(t, err)
	assert.Equal(t, errkind.RPCApplication, errkind.Classify(err))
}
