package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/livedoc/internal/telemetry"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitJaeger_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := telemetry.InitJaeger("livedoc", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitJaeger_InstallsProvider(t *testing.T) {
	t.Parallel()

	shutdown, err := telemetry.InitJaeger("livedoc-test", "http://127.0.0.1:1/api/traces")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording span from the installed provider")
	}

	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Nothing listens on the collector port; exporting fails but shutdown returns.
	_ = shutdown(ctx)
}
