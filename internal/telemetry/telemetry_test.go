package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/meshforge/internal/config"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	p, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "meshforge"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_WithEndpoint(t *testing.T) {
	// The gRPC exporter connects lazily, so no collector needs to be listening.
	p, err := Init(context.Background(), config.TelemetryConfig{
		ServiceName:  "meshforge",
		OTLPEndpoint: "127.0.0.1:4317",
		SampleRate:   1,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, span := Tracer().Start(context.Background(), "test")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestShutdown_NilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	assert.NotEmpty(t, Version())
}
