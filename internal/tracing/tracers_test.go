package tracing

import (
	"testing"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/stretchr/testify/require"
)

func TestGetTracer(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	tracer, err := GetTracer("txsim-test")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	cached, err := GetTracer("txsim-test")
	require.NoError(t, err)
	require.Equal(t, tracer, cached)

	require.NoError(t, CloseAll())
	require.Empty(t, catalog.tracerByService)
}

func TestGetTracer_BadEnv(t *testing.T) {
	t.Setenv("JAEGER_SAMPLER_PARAM", "not a number")

	_, err := GetTracer("txsim-bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "error parsing jaeger configuration from environment: ")

	err = Install("txsim-bad")
	require.Error(t, err)
}

func TestInstall(t *testing.T) {
	t.Setenv("JAEGER_DISABLED", "true")

	prev := opentracing.GlobalTracer()
	defer opentracing.SetGlobalTracer(prev)

	err := Install("txsim-install")
	require.NoError(t, err)

	tracer, err := GetTracer("txsim-install")
	require.NoError(t, err)
	require.Equal(t, tracer, opentracing.GlobalTracer())

	require.NoError(t, CloseAll())
}
