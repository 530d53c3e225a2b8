/*
Package tracing provides lightweight operation tracing.

Every workspace operation runs in a span. The trace and span IDs travel in
the context and are sent to the backend as X-Trace-ID and X-Span-ID so a
failing call can be matched with the backend's own logs. Finished spans are
collected asynchronously and written to the structured log.

# Usage

	tracer := tracing.New("workspace", logger.Logger)
	defer tracer.Close()

	err := tracer.Trace(ctx, "saveBuffer", func(ctx context.Context) error {
		return buffers.Save(ctx, bufferID)
	})

	// Outgoing requests
	headers := map[string]string{}
	tracing.InjectTraceContext(ctx, headers)

	// Status server
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
