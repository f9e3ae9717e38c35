// Package http implements the proxy on top of the standard HTTP server. Every
// request is tagged with an identifier and logged.
//
// Documentation Last Review: 12.10.2026
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/proxy"
	"golang.org/x/xerrors"
)

type key int

const (
	requestIDKey key = 0
)

// RequestIDHeader is the header that carries the identifier of a request.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 10 * time.Second

// HTTP defines a proxy http
//
// - implements proxy.Proxy
type HTTP struct {
	sync.Mutex

	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
	quit       chan struct{}
}

// Option is the type of option to set some fields of the proxy.
type Option func(*HTTP)

// WithLogger sets the logger of the server and of its requests.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *HTTP) {
		h.logger = logger
	}
}

// NewHTTP creates a new proxy http. An empty address listens on a random port
// of the loopback interface.
func NewHTTP(listenAddr string, opts ...Option) *HTTP {
	h := &HTTP{
		mux:        http.NewServeMux(),
		logger:     txsim.Logger.With().Timestamp().Str("role", "http proxy").Logger(),
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(h)
	}

	nextRequestID := func() string {
		return xid.New().String()
	}

	h.server = &http.Server{
		Handler:           tracing(nextRequestID)(logging(h.logger)(h.mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h
}

// Listen implements proxy.Proxy. It panics if the address cannot be used.
func (h *HTTP) Listen() {
	h.logger.Info().Msg("Client server is starting...")

	addr := h.listenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		h.logger.Error().Err(err).Msgf("failed to create conn '%s'", h.listenAddr)
		panic(xerrors.Errorf("failed to create conn '%s': %v", h.listenAddr, err))
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	done := make(chan struct{})

	go func() {
		<-h.quit
		h.logger.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)
		err := h.server.Shutdown(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("Could not gracefully shutdown the server")
		}

		close(done)
	}()

	h.logger.Info().Msgf("Server is ready to handle requests at http://%s", ln.Addr())

	err = h.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Error().Err(err).Msgf("Could not serve on %s", ln.Addr())
	}

	<-done
	h.logger.Info().Msg("Server stopped")
}

// Stop implements proxy.Proxy. It should be called only once per call to
// Listen.
func (h *HTTP) Stop() {
	h.quit <- struct{}{}
}

// GetAddr implements proxy.Proxy.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// RegisterHandler implements proxy.Proxy
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter,
	*http.Request)) {

	h.mux.HandleFunc(path, handler)
}

// RegisterMetrics registers the collectors of the components and the
// Prometheus handler on the path. A collector that is already registered is
// ignored.
func RegisterMetrics(p proxy.Proxy, path string, registerer prometheus.Registerer,
	gatherer prometheus.Gatherer) {

	for _, c := range txsim.PromCollectors {
		err := registerer.Register(c)
		if err != nil {
			txsim.Logger.Warn().Err(err).Msg("failed to register collector")
		}
	}

	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	p.RegisterHandler(path, handler.ServeHTTP)
}

// RequestID returns the identifier of the request, or an empty string if the
// request did not go through the proxy.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logging is a utility function that logs the http server events
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			defer func() {
				requestID := RequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}

				logger.Info().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Dur("duration", time.Since(start)).
					Str("agent", r.UserAgent()).Msg("")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// tracing is a utility function that adds header tracing
func tracing(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
