package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/raakeshmj/postplane/internal/middleware"

// Tracing opens one server span per request, continuing any incoming trace
// context. The span is named after the matched policy once it is known.
func Tracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			rw := newInterceptor(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			scope := ScopeFrom(ctx)
			if scope.PolicyID != "" {
				span.SetName(r.Method + " " + scope.PolicyID)
				span.SetAttributes(attribute.String("http.route", scope.PolicyID))
			}
			span.SetAttributes(
				attribute.Int("http.response.status_code", rw.statusCode),
				attribute.String("request.id", scope.RequestID),
			)
			if scope.UserID != 0 {
				span.SetAttributes(attribute.Int64("enduser.id", scope.UserID))
			}
			if rw.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}
		})
	}
}
