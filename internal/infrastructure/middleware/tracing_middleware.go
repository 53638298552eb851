package middleware

import (
	"edulive/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per request, named by route template so
// /rooms/:id collapses into a single span name regardless of the id.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.StartSpan(c.Request.Context(), c.Request.Method+" "+route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))

		// Failed requests carry the same error code the response body does.
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			span.SetAttributes(attribute.String("error.code", string(toAppError(err).Code)))
			span.SetStatus(codes.Error, err.Error())
			return
		}
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}
