package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := zap.NewExample()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetOrgID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOrgID(ctx, "org-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithQueueID(ctx, "queue-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "org-1", GetOrgID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Equal(t, "queue-1", GetQueueID(ctx))
}

func TestContextLogger_EnrichesEntries(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithContext(ctx, zap.New(core))
	ctx = WithOrgID(ctx, "org-1")
	ctx = WithQueueID(ctx, "queue-1")

	L(ctx).With(zap.String("entity_type", "customer")).Info("synced")

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "org-1", fields["org_id"])
	assert.Equal(t, "queue-1", fields["queue_id"])
	assert.Equal(t, "customer", fields["entity_type"])
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.NotContains(t, fields, "user_id")
}

func TestContextLogger_NilLogger(t *testing.T) {
	cl := WithLogger(context.Background(), nil)
	assert.NotPanics(t, func() {
		cl.With(zap.Int("n", 1)).Warn("nothing")
		cl.Zap().Debug("nothing")
	})
}

func TestNew(t *testing.T) {
	l, err := New(&Config{Level: "debug", Format: "json", Output: "stderr"}, "syncengine")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = New(&Config{Output: t.TempDir()}, "")
	assert.Error(t, err, "a directory cannot be opened as a log file")

	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
}
