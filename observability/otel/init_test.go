package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = secret ,broken, =nokey,x=1")
	require.Equal(t, map[string]string{"api-key": "secret", "x": "1"}, got)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "a=b")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := FromEnv(Config{ServiceName: "vaultd"})
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.True(t, cfg.Insecure)
	require.True(t, cfg.Enabled())
	require.Equal(t, 0.25, cfg.SampleRatio)
	require.Equal(t, "b", cfg.Headers["a"])
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
	_, err = Init(context.Background(), Config{ServiceName: "vaultd", SampleRatio: 2})
	require.Error(t, err)
}
