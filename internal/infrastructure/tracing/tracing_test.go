package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSpansJoinTrace(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))

	headers := map[string]string{}
	InjectTraceContext(childCtx, headers)
	assert.Equal(t, string(root.TraceID), headers[TraceHeader])
	assert.Equal(t, string(child.SpanID), headers[SpanHeader])
}

func TestTraceLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	boom := errors.New("boom")
	err := tracer.Trace(context.Background(), "saveBuffer", func(ctx context.Context) error {
		assert.NotEmpty(t, GetTraceID(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, tracer.Trace(context.Background(), "listContainers", func(context.Context) error { return nil }))

	tracer.Close()
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "span completed with error", logs.All()[0].Message)
	assert.Equal(t, "saveBuffer", logs.All()[0].ContextMap()["operation"])
}

func TestNilTracerRunsFn(t *testing.T) {
	var tracer *Tracer
	called := false
	require.NoError(t, tracer.Trace(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	tracer.Close()
}

func TestHTTPMiddlewareEchoesTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", nil)
	defer tracer.Close()

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceHeader, "trace-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "trace-1", rec.Header().Get(TraceHeader))
	assert.NotEmpty(t, rec.Header().Get(SpanHeader))
}
