package http

import (
	"context"

	"github.com/gin-gonic/gin"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// Tracing starts a Datadog span per request. The span rides on the request
// context, so log.WithDD picks up its ids.
func Tracing(service string) gin.HandlerFunc {
	return gintrace.Middleware(service)
}

// WithSpan runs fn inside a child span and tags the span with fn's error.
func WithSpan(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...tracer.StartSpanOption) error {
	span, ctx2 := tracer.StartSpanFromContext(ctx, name, opts...)
	err := fn(ctx2)
	span.Finish(tracer.WithError(err))
	return err
}
