package middlewares

import (
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const CorrelationHeader = "X-Correlation-Id"

var tracer = otel.Tracer("stockroom-backend")

// CorrelationMiddleware tags every request with a correlation id (taken from the
// caller when present) and opens a span that gorm queries attach to.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(CorrelationHeader, id)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("correlation_id", id)),
		)
		defer span.End()

		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(ctx, id))
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
