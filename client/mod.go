// Package client implements a client of the HTTP server of the sessions.
//
// Documentation Last Review: 12.10.2026
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/txn"
	proxyhttp "go.dedis.ch/txsim/proxy/http"
	"go.dedis.ch/txsim/server/api"
	"golang.org/x/xerrors"
)

// DefaultTimeout is the time limit of a request.
const DefaultTimeout = time.Minute

// Error is returned when the server rejects a request.
//
// - implements error
type Error struct {
	Code    int
	Message string

	// Index is the position of the transaction that aborted a batch, or nil.
	Index *int

	// Snapshots are the snapshots of the transactions executed before a batch
	// was aborted.
	Snapshots []api.Snapshot
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("server responded with %d: %s", e.Code, e.Message)
}

// Client sends the requests to a server.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// Option is the type of option to set some fields of a client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used to send the requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithLogger sets the logger of the client.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a new client of the server at the address. The scheme is
// optional and defaults to http.
func NewClient(addr string, opts ...Option) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	c := &Client{
		base:   strings.TrimSuffix(addr, "/"),
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: txsim.Logger.With().Str("component", "client").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateSession creates a new session on the server.
func (c *Client) CreateSession(ctx context.Context, req api.CreateSessionRequest) (*Session, error) {
	var res api.CreateSessionResponse

	err := c.do(ctx, http.MethodPost, "/sessions", req, &res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create session: %w", err)
	}

	raw, err := base58.Decode(res.Faucet)
	if err != nil {
		return nil, xerrors.Errorf("invalid faucet: %v", err)
	}

	faucet, err := txn.KeypairFromBytes(raw)
	if err != nil {
		return nil, xerrors.Errorf("invalid faucet: %v", err)
	}

	sess := c.Session(res.ID)
	sess.faucet = &faucet

	return sess, nil
}

// ListSessions returns the identifiers of the sessions of the server.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	var res api.ListSessionsResponse

	err := c.do(ctx, http.MethodGet, "/sessions", nil, &res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't list sessions: %w", err)
	}

	return res.Sessions, nil
}

// Session returns the handle of an existing session. The faucet of the
// session is unknown.
func (c *Client) Session(id string) *Session {
	return &Session{
		client: c,
		id:     id,
		prefix: "/sessions/" + url.PathEscape(id),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, reply interface{}) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return xerrors.Errorf("couldn't encode request: %v", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return xerrors.Errorf("couldn't create request: %v", err)
	}

	requestID := xid.New().String()

	req.Header.Set(proxyhttp.RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Trace().
		Str("requestID", requestID).
		Str("method", method).
		Str("path", path).
		Msg("sending request")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("request failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if reply == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(reply)
	if err != nil {
		return xerrors.Errorf("invalid response: %v", err)
	}

	return nil
}

func decodeError(resp *http.Response) error {
	var res api.ErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&res)
	if err != nil || res.Error == "" {
		return &Error{Code: resp.StatusCode, Message: resp.Status}
	}

	return &Error{
		Code:      resp.StatusCode,
		Message:   res.Error,
		Index:     res.Index,
		Snapshots: res.Snapshots,
	}
}

// Session is the handle of a session of the server.
type Session struct {
	client *Client
	id     string
	prefix string
	faucet *txn.Keypair
}

// ID returns the identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// Faucet returns the key pair of the funded account of the session. It is
// known only when the session has been created by this client.
func (s *Session) Faucet() (txn.Keypair, bool) {
	if s.faucet == nil {
		return txn.Keypair{}, false
	}

	return *s.faucet, true
}

// Close deletes the session.
func (s *Session) Close(ctx context.Context) error {
	err := s.client.do(ctx, http.MethodDelete, s.prefix, nil, nil)
	if err != nil {
		return xerrors.Errorf("couldn't delete session: %w", err)
	}

	return nil
}

// SetRPCConfig changes the cluster the missing accounts are loaded from.
func (s *Session) SetRPCConfig(ctx context.Context, endpoint, commitment string) error {
	req := api.RPCConfigRequest{RPCEndpoint: endpoint, Commitment: commitment}

	err := s.client.do(ctx, http.MethodPost, s.prefix+"/rpc_config", req, nil)
	if err != nil {
		return xerrors.Errorf("couldn't set rpc config: %w", err)
	}

	return nil
}

// LatestBlockhash returns the latest blockhash and the current slot.
func (s *Session) LatestBlockhash(ctx context.Context) (txn.Hash, uint64, error) {
	var res api.BlockhashResponse

	err := s.client.do(ctx, http.MethodGet, s.prefix+"/latest_blockhash", nil, &res)
	if err != nil {
		return txn.Hash{}, 0, xerrors.Errorf("couldn't get blockhash: %w", err)
	}

	return parseBlockhash(res)
}

// AdvanceBlockhash moves the session to the next slot. A new hash is derived
// when the given one is nil.
func (s *Session) AdvanceBlockhash(ctx context.Context, hash *txn.Hash) (txn.Hash, uint64, error) {
	var req api.AdvanceBlockhashRequest
	if hash != nil {
		req.Hash = hash.String()
	}

	var res api.BlockhashResponse

	err := s.client.do(ctx, http.MethodPost, s.prefix+"/advance_blockhash", req, &res)
	if err != nil {
		return txn.Hash{}, 0, xerrors.Errorf("couldn't advance blockhash: %w", err)
	}

	return parseBlockhash(res)
}

// MinimumBalance returns the rent-exempt minimum of an account with the data
// length.
func (s *Session) MinimumBalance(ctx context.Context, dataLen int) (uint64, error) {
	var res api.RentResponse

	path := s.prefix + "/rent_exempt_balance?data_len=" + strconv.Itoa(dataLen)

	err := s.client.do(ctx, http.MethodGet, path, nil, &res)
	if err != nil {
		return 0, xerrors.Errorf("couldn't get rent: %w", err)
	}

	return res.Lamports, nil
}

// Account returns the state of an account of the session.
func (s *Session) Account(ctx context.Context, id account.Identity) (account.Account, error) {
	var res api.Account

	err := s.client.do(ctx, http.MethodGet, s.prefix+"/accounts/"+id.String(), nil, &res)
	if err != nil {
		return account.Account{}, xerrors.Errorf("couldn't get account: %w", err)
	}

	acc, err := res.Decode()
	if err != nil {
		return account.Account{}, xerrors.Errorf("couldn't decode account: %v", err)
	}

	return acc, nil
}

// Accounts returns the state of the accounts in the order of the identities.
// An account that is not in the session is nil.
func (s *Session) Accounts(ctx context.Context, ids ...account.Identity) ([]*account.Account, error) {
	addresses := make([]string, len(ids))
	for i, id := range ids {
		addresses[i] = id.String()
	}

	var res []*api.Account

	err := s.client.do(ctx, http.MethodPost, s.prefix+"/accounts", addresses, &res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't get accounts: %w", err)
	}

	accounts := make([]*account.Account, len(res))

	for i, msg := range res {
		if msg == nil {
			continue
		}

		acc, err := msg.Decode()
		if err != nil {
			return nil, xerrors.Errorf("couldn't decode account #%d: %v", i, err)
		}

		accounts[i] = &acc
	}

	return accounts, nil
}

// ExecuteOne executes a transaction and returns its snapshot.
func (s *Session) ExecuteOne(ctx context.Context, tx *txn.Transaction) (api.Snapshot, error) {
	snapshots, err := s.ExecuteBatch(ctx, []*txn.Transaction{tx}, true)
	if err != nil {
		return api.Snapshot{}, err
	}

	if len(snapshots) != 1 {
		return api.Snapshot{}, xerrors.Errorf("expected 1 snapshot, got %d", len(snapshots))
	}

	return snapshots[0], nil
}

// ExecuteBatch executes the transactions in order and returns their
// snapshots. A batch that the server aborts returns an *Error that holds the
// snapshots of the transactions executed before.
func (s *Session) ExecuteBatch(ctx context.Context, txs []*txn.Transaction,
	stopOnFailure bool) ([]api.Snapshot, error) {

	req := api.ExecuteRequest{
		Transactions:  make([]string, len(txs)),
		StopOnFailure: stopOnFailure,
	}

	for i, tx := range txs {
		text, err := tx.EncodeBase64()
		if err != nil {
			return nil, xerrors.Errorf("couldn't encode transaction #%d: %v", i, err)
		}

		req.Transactions[i] = text
	}

	var res api.ExecuteResponse

	err := s.client.do(ctx, http.MethodPost, s.prefix+"/execute", req, &res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't execute: %w", err)
	}

	return res.Snapshots, nil
}

// Snapshots returns every snapshot of the session.
func (s *Session) Snapshots(ctx context.Context) ([]api.Snapshot, error) {
	var res api.ExecuteResponse

	err := s.client.do(ctx, http.MethodGet, s.prefix+"/snapshots", nil, &res)
	if err != nil {
		return nil, xerrors.Errorf("couldn't get snapshots: %w", err)
	}

	return res.Snapshots, nil
}

func parseBlockhash(res api.BlockhashResponse) (txn.Hash, uint64, error) {
	hash, err := txn.ParseHash(res.Blockhash)
	if err != nil {
		return txn.Hash{}, 0, xerrors.Errorf("invalid blockhash: %v", err)
	}

	return hash, res.Slot, nil
}
