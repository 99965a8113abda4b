package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/model"
)

const (
	tracerName          = "github.com/govflow/govflow"
	defaultSamplingRate = 0.1
)

// Span attributes for service-request operations.
var (
	AttrRequestID  = attribute.Key("govflow.request_id")
	AttrWorkflowID = attribute.Key("govflow.workflow_id")
	AttrStepID     = attribute.Key("govflow.step_id")
	AttrStatus     = attribute.Key("govflow.status")
	AttrAction     = attribute.Key("govflow.action")
	AttrUserID     = attribute.Key("govflow.user_id")
	AttrRole       = attribute.Key("govflow.role")
	AttrErrorKind  = attribute.Key("govflow.error_kind")
)

// untracedPaths are probe and scrape endpoints. They are polled constantly
// and never carry a service request.
var untracedPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes pending spans. When tracing is disabled nothing
// is installed and the global no-op provider stays in place.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName), semconv.ServiceVersion(serviceVersion)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("tracing: exporter %q is not supported (use otlp or stdout)", cfg.Exporter)
}

// newSampler samples root spans at rate, clamped to (0, 1], and otherwise
// follows the parent's decision.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		rate = defaultSamplingRate
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the GovFlow tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRequestSpan starts an internal span for an operation on the service
// request requestID, tagged with the caller. requestID may be empty for
// operations that create the request.
func StartRequestSpan(ctx context.Context, op, requestID string, rctx *model.RequestContext, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if requestID != "" {
		attrs = append(attrs, AttrRequestID.String(requestID))
	}
	if rctx != nil {
		attrs = append(attrs, AttrUserID.String(rctx.UserID), AttrRole.String(string(rctx.Role)))
	}
	return Tracer().Start(ctx, op, trace.WithAttributes(attrs...))
}

// AnnotateRequest records where req stands in its workflow.
func AnnotateRequest(span trace.Span, req model.ServiceRequest) {
	span.SetAttributes(
		AttrRequestID.String(req.ID),
		AttrWorkflowID.String(req.WorkflowDefinitionID),
		AttrStepID.String(req.CurrentStepID),
		AttrStatus.String(string(req.Status)),
	)
}

// EndSpanWithError ends span. Only INTERNAL errors mark it failed; domain
// rejections such as validation failures or invalid transitions are tagged
// with their kind and recorded as a "rejected" event.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		kind := model.KindOf(err)
		span.SetAttributes(AttrErrorKind.String(kind))
		if kind == model.ErrInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.AddEvent("rejected", trace.WithAttributes(attribute.String("message", err.Error())))
		}
	}
	span.End()
}

// SetCaller tags the request's server span with the authenticated caller.
func SetCaller(ctx context.Context, userID string, role model.Role) {
	trace.SpanFromContext(ctx).SetAttributes(AttrUserID.String(userID), AttrRole.String(string(role)))
}

// TraceIDFromContext returns the active trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext returns the active span ID, or "".
func SpanIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// TracingMiddleware starts a server span per request, continuing any inbound
// traceparent and echoing the trace context on the response. The span is
// named after the chi route pattern once routing is done, so request IDs in
// the path never reach span names. Probe and scrape endpoints are skipped.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if untracedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		prop := otel.GetTextMapPropagator()
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := Tracer().Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
		)
		defer span.End()
		prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
