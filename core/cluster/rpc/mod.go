// Package rpc implements a cluster source that reads the accounts through the
// JSON-RPC 2.0 interface of a cluster node.
//
// The requests are encoded with the JSON-RPC codec of gorilla. A request that
// fails at the transport level can be retried with an exponential backoff,
// while an error returned by the node itself is final.
//
// Documentation Last Review: 12.10.2026
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
	"golang.org/x/xerrors"
)

const (
	// DefaultEndpoint is the address of the public node of the main cluster.
	DefaultEndpoint = "https://api.mainnet-beta.solana.com/"

	// DefaultCommitment is the commitment level of the requests.
	DefaultCommitment = CommitmentProcessed

	// DefaultTimeout is the time limit of a single request.
	DefaultTimeout = 10 * time.Second
)

// Commitment levels supported by the nodes.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// ParseCommitment returns the commitment level of the text. It returns an
// error if the level is unknown.
func ParseCommitment(text string) (string, error) {
	switch text {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return text, nil
	default:
		return "", xerrors.Errorf("unknown commitment '%s'", text)
	}
}

// Client is a cluster source backed by the JSON-RPC interface of a node.
//
// - implements cluster.Source
type Client struct {
	endpoint   string
	commitment string
	timeout    time.Duration
	retries    uint64
	newBackOff func() backoff.BackOff
	http       *http.Client
	logger     zerolog.Logger
}

// Option is the type of option to set some fields of a client.
type Option func(*Client)

// WithCommitment sets the commitment level of the requests.
func WithCommitment(level string) Option {
	return func(c *Client) {
		c.commitment = level
	}
}

// WithTimeout sets the time limit of a single request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets the number of times a request is retried after a transport
// failure. The requests are not retried by default.
func WithRetries(n uint64) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// WithBackOff sets the factory of the delays between the attempts of a
// request.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = fn
	}
}

// WithHTTPClient sets the HTTP client used to send the requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// NewClient returns a new client for the node at the endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		commitment: DefaultCommitment,
		timeout:    DefaultTimeout,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		http:       http.DefaultClient,
		logger:     txsim.Logger.With().Str("component", "rpc").Str("endpoint", endpoint).Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoint returns the address of the node.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Commitment returns the commitment level of the requests.
func (c *Client) Commitment() string {
	return c.commitment
}

type requestConfig struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"commitment"`
}

type accountInfo struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
}

type accountResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`

	Value *accountInfo `json:"value"`
}

// FetchAccount implements cluster.Source. It requests the account with the
// base64 encoding. It returns nil if the node does not know the account.
func (c *Client) FetchAccount(ctx context.Context, id account.Identity) (*account.Account, error) {
	params := []interface{}{
		id.String(),
		requestConfig{Encoding: "base64", Commitment: c.commitment},
	}

	var res accountResult

	err := c.call(ctx, "getAccountInfo", params, &res)
	if err != nil {
		return nil, err
	}

	if res.Value == nil {
		return nil, nil
	}

	acc, err := res.Value.decode()
	if err != nil {
		return nil, xerrors.Errorf("account %v: %v", id, err)
	}

	return acc, nil
}

func (info accountInfo) decode() (*account.Account, error) {
	owner, err := account.ParseIdentity(info.Owner)
	if err != nil {
		return nil, xerrors.Errorf("invalid owner: %v", err)
	}

	if info.Data[1] != "base64" {
		return nil, xerrors.Errorf("unexpected encoding '%s'", info.Data[1])
	}

	data, err := base64.StdEncoding.DecodeString(info.Data[0])
	if err != nil {
		return nil, xerrors.Errorf("invalid data: %v", err)
	}

	return &account.Account{
		Lamports:   info.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
	}, nil
}

// call sends the request and decodes the result into the reply. The transport
// failures are retried according to the configuration.
func (c *Client) call(ctx context.Context, method string, params, reply interface{}) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return xerrors.Errorf("couldn't encode request: %v", err)
	}

	attempt := 0

	op := func() error {
		attempt++

		c.logger.Trace().Str("method", method).Int("attempt", attempt).Msg("sending request")

		err := c.send(ctx, body, reply)
		if err != nil {
			c.logger.Debug().Err(err).Str("method", method).Int("attempt", attempt).Msg("request failed")
		}

		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.retries), ctx)

	err = backoff.Retry(op, policy)
	if err != nil {
		return err
	}

	return nil
}

func (c *Client) send(ctx context.Context, body []byte, reply interface{}) error {
	reqCtx := ctx

	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(xerrors.Errorf("couldn't create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return cluster.TimeoutError{Err: err}
		}

		if ctx.Err() != nil {
			return backoff.Permanent(xerrors.Errorf("request aborted: %v", ctx.Err()))
		}

		return xerrors.Errorf("request failed: %v", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return xerrors.Errorf("server error: %s", resp.Status)
	}

	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(xerrors.Errorf("unexpected status: %s", resp.Status))
	}

	err = json2.DecodeClientResponse(resp.Body, reply)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return cluster.TimeoutError{Err: err}
		}

		return backoff.Permanent(xerrors.Errorf("invalid response: %v", err))
	}

	return nil
}
