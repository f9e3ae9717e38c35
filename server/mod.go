// Package server exposes the sessions over HTTP. A session is created by a
// request and lives until it is deleted, and every other route addresses a
// session by its identifier.
//
//	POST   /sessions
//	GET    /sessions
//	DELETE /sessions/{id}
//	POST   /sessions/{id}/rpc_config
//	GET    /sessions/{id}/latest_blockhash
//	POST   /sessions/{id}/advance_blockhash
//	GET    /sessions/{id}/rent_exempt_balance?data_len=N
//	GET    /sessions/{id}/accounts/{address}
//	POST   /sessions/{id}/accounts
//	POST   /sessions/{id}/execute
//	GET    /sessions/{id}/snapshots
//
// Documentation Last Review: 12.10.2026
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/core/account"
	"go.dedis.ch/txsim/core/cluster"
	"go.dedis.ch/txsim/core/execution/native"
	"go.dedis.ch/txsim/core/session"
	"go.dedis.ch/txsim/core/store/loader"
	"go.dedis.ch/txsim/core/txn"
	"go.dedis.ch/txsim/internal/tracing"
	"go.dedis.ch/txsim/proxy"
	proxyhttp "go.dedis.ch/txsim/proxy/http"
	"go.dedis.ch/txsim/server/api"
	"golang.org/x/xerrors"
)

// MaxBodySize is the maximum size in bytes of the body of a request.
const MaxBodySize = 16 << 20

// MaxBatchSize is the maximum number of transactions of a batch.
const MaxBatchSize = 1024

// defines prometheus metrics
var (
	promSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "txsim_server_sessions",
		Help: "number of open sessions",
	})

	promErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txsim_server_errors_total",
		Help: "total number of failed requests by status code",
	}, []string{"code"})
)

func init() {
	txsim.PromCollectors = append(txsim.PromCollectors, promSessions, promErrors)
}

// Server holds the sessions and serves the requests that address them.
type Server struct {
	sync.RWMutex

	sessions map[string]*session.Session
	factory  Factory
	logger   zerolog.Logger
}

// NewServer returns a new server that creates the sessions with the factory.
func NewServer(factory Factory) *Server {
	return &Server{
		sessions: make(map[string]*session.Session),
		factory:  factory,
		logger:   txsim.Logger.With().Str("component", "server").Logger(),
	}
}

// Register registers the routes of the server on the proxy.
func (s *Server) Register(p proxy.Proxy) {
	p.RegisterHandler("POST /sessions", s.createSession)
	p.RegisterHandler("GET /sessions", s.listSessions)
	p.RegisterHandler("DELETE /sessions/{id}", s.deleteSession)
	p.RegisterHandler("POST /sessions/{id}/rpc_config", s.withSession(s.setRPCConfig))
	p.RegisterHandler("GET /sessions/{id}/latest_blockhash", s.withSession(s.latestBlockhash))
	p.RegisterHandler("POST /sessions/{id}/advance_blockhash", s.withSession(s.advanceBlockhash))
	p.RegisterHandler("GET /sessions/{id}/rent_exempt_balance", s.withSession(s.rentExemptBalance))
	p.RegisterHandler("GET /sessions/{id}/accounts/{address}", s.withSession(s.getAccount))
	p.RegisterHandler("POST /sessions/{id}/accounts", s.withSession(s.getAccounts))
	p.RegisterHandler("POST /sessions/{id}/execute", s.withSession(s.execute))
	p.RegisterHandler("GET /sessions/{id}/snapshots", s.withSession(s.snapshots))
}

// Len returns the number of open sessions.
func (s *Server) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.sessions)
}

// Get returns the session of the identifier if it exists.
func (s *Server) Get(id string) (*session.Session, bool) {
	s.RLock()
	defer s.RUnlock()

	sess, found := s.sessions[id]
	return sess, found
}

type sessionHandler func(http.ResponseWriter, *http.Request, *session.Session)

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		sess, found := s.Get(id)
		if !found {
			s.renderError(w, r, http.StatusNotFound, xerrors.Errorf("session '%s' not found", id))
			return
		}

		next(w, r, sess)
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest

	// An empty body selects the defaults.
	err := s.decodeOptional(w, r, &req)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	source, err := s.newSource(req.RPCEndpoint, req.Commitment)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	sess, err := s.factory.NewSession(source)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	faucet, err := sess.Faucet().MarshalBinary()
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError,
			xerrors.Errorf("couldn't encode faucet: %v", err))
		return
	}

	id := xid.New().String()

	s.Lock()
	s.sessions[id] = sess
	promSessions.Set(float64(len(s.sessions)))
	s.Unlock()

	s.logger.Info().
		Str("session", id).
		Str("requestID", proxyhttp.RequestID(r.Context())).
		Msg("session created")

	s.render(w, http.StatusCreated, api.CreateSessionResponse{
		ID:            id,
		Faucet:        base58.Encode(faucet),
		FaucetAddress: sess.Faucet().Identity().String(),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.RUnlock()

	sort.Strings(ids)

	s.render(w, http.StatusOK, api.ListSessionsResponse{Sessions: ids})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.Lock()
	_, found := s.sessions[id]
	delete(s.sessions, id)
	promSessions.Set(float64(len(s.sessions)))
	s.Unlock()

	if !found {
		s.renderError(w, r, http.StatusNotFound, xerrors.Errorf("session '%s' not found", id))
		return
	}

	s.logger.Info().Str("session", id).Msg("session deleted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRPCConfig(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req api.RPCConfigRequest

	err := s.decode(w, r, &req)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	if req.RPCEndpoint == "" {
		s.renderError(w, r, http.StatusBadRequest, xerrors.New("missing rpc endpoint"))
		return
	}

	source, err := s.newSource(req.RPCEndpoint, req.Commitment)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	sess.SetSource(source)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) latestBlockhash(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.render(w, http.StatusOK, api.BlockhashResponse{
		Blockhash: sess.LatestBlockhash().String(),
		Slot:      sess.Slot(),
	})
}

func (s *Server) advanceBlockhash(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req api.AdvanceBlockhashRequest

	err := s.decodeOptional(w, r, &req)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	var hash *txn.Hash

	if req.Hash != "" {
		h, err := txn.ParseHash(req.Hash)
		if err != nil {
			s.renderError(w, r, http.StatusBadRequest, xerrors.Errorf("invalid hash: %v", err))
			return
		}

		hash = &h
	}

	next := sess.AdvanceBlockhash(hash)

	s.render(w, http.StatusOK, api.BlockhashResponse{
		Blockhash: next.String(),
		Slot:      sess.Slot(),
	})
}

func (s *Server) rentExemptBalance(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	dataLen, err := strconv.Atoi(r.URL.Query().Get("data_len"))
	if err != nil || dataLen < 0 {
		s.renderError(w, r, http.StatusBadRequest, xerrors.New("invalid data length"))
		return
	}

	if dataLen > native.MaxPermittedDataLength {
		s.renderError(w, r, http.StatusBadRequest,
			xerrors.Errorf("data length %d above %d", dataLen, native.MaxPermittedDataLength))
		return
	}

	s.render(w, http.StatusOK, api.RentResponse{Lamports: sess.MinimumBalance(dataLen)})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id, err := account.ParseIdentity(r.PathValue("address"))
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, xerrors.Errorf("invalid address: %v", err))
		return
	}

	acc, found := sess.Inspect(id)
	if !found {
		s.renderError(w, r, http.StatusNotFound, xerrors.Errorf("account %v not in session", id))
		return
	}

	s.render(w, http.StatusOK, api.NewAccount(acc))
}

func (s *Server) getAccounts(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var addresses []string

	err := s.decode(w, r, &addresses)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	ids := make([]account.Identity, len(addresses))
	for i, addr := range addresses {
		ids[i], err = account.ParseIdentity(addr)
		if err != nil {
			s.renderError(w, r, http.StatusBadRequest,
				xerrors.Errorf("invalid address #%d: %v", i, err))
			return
		}
	}

	res := make([]*api.Account, len(ids))
	for i, acc := range sess.Accounts(ids...) {
		if acc != nil {
			msg := api.NewAccount(*acc)
			res[i] = &msg
		}
	}

	s.render(w, http.StatusOK, res)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req api.ExecuteRequest

	err := s.decode(w, r, &req)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	if len(req.Transactions) > MaxBatchSize {
		s.renderError(w, r, http.StatusBadRequest,
			xerrors.Errorf("too many transactions: %d > %d", len(req.Transactions), MaxBatchSize))
		return
	}

	txs := make([]*txn.Transaction, len(req.Transactions))
	for i, raw := range req.Transactions {
		txs[i], err = txn.DecodeBase64(raw)
		if err != nil {
			s.renderError(w, r, http.StatusBadRequest,
				xerrors.Errorf("invalid transaction #%d: %v", i, err))
			return
		}
	}

	span, ctx := opentracing.StartSpanFromContext(r.Context(), "execute")
	span.SetTag(tracing.SessionTag, r.PathValue("id"))
	span.SetTag("requestID", proxyhttp.RequestID(r.Context()))
	defer span.Finish()

	snapshots, err := sess.ExecuteBatch(ctx, txs, req.StopOnFailure)
	if err != nil {
		res := api.ErrorResponse{
			Error:     err.Error(),
			Snapshots: api.NewSnapshots(snapshots),
		}

		var stepErr *session.StepError
		if errors.As(err, &stepErr) {
			res.Index = &stepErr.Index
		}

		code := statusOf(err)
		span.SetTag("error", true)

		s.logFailure(r, code, err)
		s.render(w, code, res)

		return
	}

	s.render(w, http.StatusOK, api.ExecuteResponse{Snapshots: api.NewSnapshots(snapshots)})
}

func (s *Server) snapshots(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.render(w, http.StatusOK, api.ExecuteResponse{Snapshots: api.NewSnapshots(sess.Snapshots())})
}

func (s *Server) newSource(endpoint, commitment string) (cluster.Source, error) {
	source, err := s.factory.NewSource(endpoint, commitment)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create source: %v", err)
	}

	return source, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err != nil {
		return xerrors.Errorf("invalid request: %w", err)
	}

	return nil
}

// decodeOptional is like decode but leaves the value untouched when the body
// is empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := s.decode(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

func (s *Server) render(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.logFailure(r, code, err)
	s.render(w, code, api.ErrorResponse{Error: err.Error()})
}

func (s *Server) logFailure(r *http.Request, code int, err error) {
	promErrors.WithLabelValues(strconv.Itoa(code)).Inc()

	evt := s.logger.Info()
	if code >= http.StatusInternalServerError {
		evt = s.logger.Warn()
	}

	evt.Err(err).
		Int("code", code).
		Str("requestID", proxyhttp.RequestID(r.Context())).
		Msg("request failed")
}

// statusOf returns the status code of an error of a batch.
func statusOf(err error) int {
	var loadErr *loader.LoadError
	var violation *session.InvariantViolation

	switch {
	case errors.Is(err, cluster.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &loadErr):
		return http.StatusBadGateway
	case errors.As(err, &violation):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
