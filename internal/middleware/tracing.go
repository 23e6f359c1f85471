package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware continues any incoming W3C trace and wraps the handler
// chain in a server span. Emitted events inherit this span, so deliveries are
// linked to the API call that produced them.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "hookq"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		req := c.Request
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+req.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.target", req.URL.Path),
			),
		)
		defer span.End()
		c.Request = req.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName("HTTP " + req.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		if id := c.GetString("request_id"); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		if p := ProjectID(c); p != "" {
			span.SetAttributes(attribute.String("hookq.project_id", p))
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
