package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// routed mounts h on a ServeMux so requests carry a route pattern.
func routed(m *Metrics, pattern string, h http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(pattern, h)
	return Middleware(m)(mux)
}

func TestMiddleware_SpanAndRoute(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := routed(m, "GET /api/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products/p42", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if want := "HTTP GET /api/products/{id}"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want 404", status)
	}

	rm := collect(t, reader)
	met := findMetric(rm, "pettry.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	if v, ok := dp.Attributes.Value("route"); !ok || v.AsString() != "GET /api/products/{id}" {
		t.Errorf("route attribute = %v", v)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/anything/123", nil))

	met := findMetric(collect(t, reader), "pettry.http.request.duration")
	dp := met.Data.(metricdata.Histogram[float64]).DataPoints[0]
	if v, _ := dp.Attributes.Value("route"); v.AsString() != "unmatched" {
		t.Errorf("route = %q, want unmatched", v.AsString())
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	var got string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/widget", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if got != want {
		t.Errorf("correlation ID = %q, want %q", got, want)
	}
	if h := rec.Header().Get("X-Correlation-ID"); h != want {
		t.Errorf("X-Correlation-ID = %q, want %q", h, want)
	}
}

func TestStatusRecorder_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	sr.Flush()
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}
	if _, _, err := sr.Hijack(); err == nil {
		t.Error("Hijack on a recorder should fail")
	}
}
