// Package tracing creates the Jaeger tracers of the services. The tracers are
// configured from the standard JAEGER_* environment variables.
package tracing

import (
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

// SessionTag is the span tag that carries the identifier of a session.
const SessionTag = "session"

type tracerCatalog struct {
	sync.Mutex
	tracerByService map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByService: make(map[string]closableTracer),
}

// GetTracer returns the tracer of the service. Since the tracers are cached,
// it returns an existing one if it has been initialized before.
func GetTracer(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByService[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByService[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// Install sets the tracer of the service as the global tracer, which is the
// one the sessions use by default.
func Install(service string) error {
	tracer, err := GetTracer(service)
	if err != nil {
		return xerrors.Errorf("couldn't install tracer: %v", err)
	}

	opentracing.SetGlobalTracer(tracer)

	return nil
}

// CloseAll closes all the tracer instances and forgets them.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for service, tc := range catalog.tracerByService {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("couldn't close tracer of '%s': %v", service, err)
		}

		delete(catalog.tracerByService, service)
	}

	return nil
}
