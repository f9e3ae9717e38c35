package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
)

func TestParseCommitment(t *testing.T) {
	level, err := ParseCommitment("finalized")
	require.NoError(t, err)
	require.Equal(t, CommitmentFinalized, level)

	_, err = ParseCommitment("recent")
	require.EqualError(t, err, "unknown commitment 'recent'")
}

func TestClient_FetchAccount(t *testing.T) {
	id := account.Identity{1}

	node := newFakeNode()
	node.accounts[id.String()] = accountInfo{
		Lamports:   42,
		Owner:      account.SystemProgram.String(),
		Data:       [2]string{base64.StdEncoding.EncodeToString([]byte("abc")), "base64"},
		Executable: true,
		RentEpoch:  7,
	}

	srv := httptest.NewServer(node)
	defer srv.Close()

	client := NewClient(srv.URL, WithCommitment(CommitmentConfirmed))
	require.Equal(t, srv.URL, client.Endpoint())
	require.Equal(t, CommitmentConfirmed, client.Commitment())

	acc, err := client.FetchAccount(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, uint64(42), acc.Lamports)
	require.Equal(t, account.SystemProgram, acc.Owner)
	require.Equal(t, []byte("abc"), acc.Data)
	require.True(t, acc.Executable)
	require.Equal(t, uint64(7), acc.RentEpoch)

	method, params := node.last()
	require.Equal(t, "getAccountInfo", method)
	require.Equal(t, id.String(), params[0])
	require.Equal(t, map[string]interface{}{
		"encoding":   "base64",
		"commitment": "confirmed",
	}, params[1])
}

func TestClient_FetchMissingAccount(t *testing.T) {
	srv := httptest.NewServer(newFakeNode())
	defer srv.Close()

	client := NewClient(srv.URL)

	acc, err := client.FetchAccount(context.Background(), account.Identity{2})
	require.NoError(t, err)
	require.Nil(t, acc)
}

func TestClient_InvalidAccount(t *testing.T) {
	id := account.Identity{1}

	node := newFakeNode()
	node.put(id, accountInfo{Owner: "0OIl", Data: [2]string{"", "base64"}})

	srv := httptest.NewServer(node)
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.FetchAccount(context.Background(), id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid owner")

	node.put(id, accountInfo{
		Owner: account.SystemProgram.String(),
		Data:  [2]string{"abc", "base58"},
	})

	_, err = client.FetchAccount(context.Background(), id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected encoding 'base58'")

	node.put(id, accountInfo{
		Owner: account.SystemProgram.String(),
		Data:  [2]string{"!!!", "base64"},
	})

	_, err = client.FetchAccount(context.Background(), id)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid data")
}

func TestClient_RPCError(t *testing.T) {
	node := newFakeNode()
	node.rpcErr = &json2.Error{Code: -32602, Message: "Invalid param"}

	srv := httptest.NewServer(node)
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3), WithBackOff(fastBackOff))

	_, err := client.FetchAccount(context.Background(), account.Identity{1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid param")

	// Errors returned by the node are final.
	require.Equal(t, 1, node.Attempts())
}

func TestClient_Retries(t *testing.T) {
	node := newFakeNode()
	node.failures = 2

	srv := httptest.NewServer(node)
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3), WithBackOff(fastBackOff))

	acc, err := client.FetchAccount(context.Background(), account.Identity{1})
	require.NoError(t, err)
	require.Nil(t, acc)
	require.Equal(t, 3, node.Attempts())

	node = newFakeNode()
	node.failures = 10

	srv2 := httptest.NewServer(node)
	defer srv2.Close()

	client = NewClient(srv2.URL, WithRetries(1), WithBackOff(fastBackOff))

	_, err = client.FetchAccount(context.Background(), account.Identity{1})
	require.EqualError(t, err, "server error: 503 Service Unavailable")
	require.Equal(t, 2, node.Attempts())
}

func TestClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(3), WithBackOff(fastBackOff))

	_, err := client.FetchAccount(context.Background(), account.Identity{1})
	require.EqualError(t, err, "unexpected status: 403 Forbidden")
}

func TestClient_Timeout(t *testing.T) {
	node := newFakeNode()
	node.delay = time.Second

	srv := httptest.NewServer(node)
	defer srv.Close()

	client := NewClient(srv.URL, WithTimeout(20*time.Millisecond))

	_, err := client.FetchAccount(context.Background(), account.Identity{1})
	require.Error(t, err)
	require.True(t, errors.Is(err, cluster.ErrTimeout))
}

func TestClient_Canceled(t *testing.T) {
	srv := httptest.NewServer(newFakeNode())
	defer srv.Close()

	client := NewClient(srv.URL, WithRetries(5), WithBackOff(fastBackOff))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchAccount(ctx, account.Identity{1})
	require.Error(t, err)
	require.False(t, errors.Is(err, cluster.ErrTimeout))
}

// -----------------------------------------------------------------------------
// Utility functions

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

// fakeNode is a minimal JSON-RPC server that answers getAccountInfo.
type fakeNode struct {
	sync.Mutex

	accounts   map[string]accountInfo
	rpcErr     *json2.Error
	failures   int
	delay      time.Duration
	attempts   int
	lastMethod string
	lastParams []interface{}
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		accounts: make(map[string]accountInfo),
	}
}

func (n *fakeNode) Attempts() int {
	n.Lock()
	defer n.Unlock()

	return n.attempts
}

func (n *fakeNode) put(id account.Identity, info accountInfo) {
	n.Lock()
	n.accounts[id.String()] = info
	n.Unlock()
}

func (n *fakeNode) last() (string, []interface{}) {
	n.Lock()
	defer n.Unlock()

	return n.lastMethod, n.lastParams
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params []interface{}   `json:"params"`
	}

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-r.Context().Done():
			return
		}
	}

	n.Lock()
	defer n.Unlock()

	n.attempts++
	n.lastMethod = req.Method
	n.lastParams = req.Params

	if n.failures > 0 {
		n.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
	}

	if n.rpcErr != nil {
		resp["error"] = n.rpcErr
	} else {
		var value interface{}

		info, found := n.accounts[req.Params[0].(string)]
		if found {
			value = info
		}

		resp["result"] = map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   value,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
