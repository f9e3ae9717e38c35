package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/txsim"
	"go.dedis.ch/txsim/testing/fake"
)

func TestHTTP_Listen(t *testing.T) {
	proxy := NewHTTP("127.0.0.1:0")
	proxy.RegisterHandler("/fake", fakeHandler)

	go proxy.Listen()
	defer proxy.Stop()

	addr := waitAddr(t, proxy)

	res, err := http.Get("http://" + addr + "/fake")
	require.NoError(t, err)

	defer res.Body.Close()

	output, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, "hello", string(output))
	require.NotEmpty(t, res.Header.Get(RequestIDHeader))
}

func TestHTTP_Listen_EmptyAddr(t *testing.T) {
	logger, wait := fake.WaitLog("Server stopped", 5*time.Second)

	// in this case it will use a random free port
	proxy := NewHTTP("", WithLogger(logger))

	require.Nil(t, proxy.GetAddr())

	go proxy.Listen()

	waitAddr(t, proxy)

	proxy.Stop()

	wait(t)
}

func TestHTTP_Listen_BadAddr(t *testing.T) {
	proxy := NewHTTP("bad://xx")

	out := new(bytes.Buffer)
	proxy.logger = zerolog.New(out)

	require.Panics(t, func() {
		proxy.Listen()
	})

	require.Contains(t, out.String(), "failed to create conn 'bad://xx'")
}

func TestTracing(t *testing.T) {
	var seen string

	handler := tracing(func() string { return "generated" })(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			seen = RequestID(r.Context())
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "generated", seen)
	require.Equal(t, "generated", rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	require.Equal(t, "", RequestID(context.Background()))
}

func TestLogging(t *testing.T) {
	out := new(bytes.Buffer)

	handler := tracing(func() string { return "xyz" })(logging(zerolog.New(out))(http.HandlerFunc(fakeHandler)))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fake", nil))

	require.Contains(t, out.String(), `"requestID":"xyz"`)
	require.Contains(t, out.String(), `"url":"/fake"`)
}

func TestRegisterMetrics(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txsim_test_counter_total",
		Help: "counter of the test",
	})

	counter.Inc()

	txsim.PromCollectors = append(txsim.PromCollectors, counter)
	defer func() {
		txsim.PromCollectors = txsim.PromCollectors[:len(txsim.PromCollectors)-1]
	}()

	registry := prometheus.NewRegistry()

	proxy := NewHTTP("")
	RegisterMetrics(proxy, "/metrics", registry, registry)

	rec := httptest.NewRecorder()
	proxy.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "txsim_test_counter_total 1")

	// Registering twice is harmless.
	RegisterMetrics(NewHTTP(""), "/metrics", registry, registry)
}

// -----------------------------------------------------------------------------
// Utility functions

func waitAddr(t *testing.T, proxy *HTTP) string {
	for i := 0; i < 100; i++ {
		addr := proxy.GetAddr()
		if addr != nil {
			return addr.String()
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("proxy is not listening")

	return ""
}

func fakeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("hello"))
}
