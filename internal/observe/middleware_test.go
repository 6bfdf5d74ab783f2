package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// parleyMux mirrors the shape of the web server routes.
func parleyMux(t *testing.T) *http.ServeMux {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/summary/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("sessionID") == "missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "synthesis failed", http.StatusBadGateway)
	})
	mux.HandleFunc("GET /v1/conversation", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), typ, data)
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	})
	return mux
}

func spanAttr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes() {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantRoute  string
	}{
		{name: "chat", method: "POST", path: "/api/chat", wantStatus: http.StatusOK, wantRoute: "POST /api/chat"},
		{name: "summary by session", method: "GET", path: "/api/summary/abc-123", wantStatus: http.StatusOK, wantRoute: "GET /api/summary/{sessionID}"},
		{name: "missing summary", method: "GET", path: "/api/summary/missing", wantStatus: http.StatusNotFound, wantRoute: "GET /api/summary/{sessionID}"},
		{name: "upstream failure", method: "POST", path: "/api/tts", wantStatus: http.StatusBadGateway, wantRoute: "POST /api/tts"},
		{name: "unknown path", method: "GET", path: "/nope", wantStatus: http.StatusNotFound, wantRoute: "unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, exp := testSetup(t)
			handler := Middleware(m)(parleyMux(t))

			var body *strings.Reader
			if tt.method == "POST" {
				body = strings.NewReader(`{}`)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want 32 hex chars", cid)
			}

			spans := exp.GetSpans().Snapshots()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if want := "HTTP " + tt.wantRoute; spans[0].Name() != want {
				t.Errorf("span name = %q, want %q", spans[0].Name(), want)
			}
			if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %v (present %v)", v.AsInt64(), ok)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "parley.http.request.duration")
			if met == nil {
				t.Fatal("metric not found")
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("histogram data = %+v", met.Data)
			}
			dp := hist.DataPoints[0]
			if route, _ := dp.Attributes.Value("route"); route.AsString() != tt.wantRoute {
				t.Errorf("route attribute = %q, want %q", route.AsString(), tt.wantRoute)
			}
			if method, _ := dp.Attributes.Value("method"); method.AsString() != tt.method {
				t.Errorf("method attribute = %q, want %q", method.AsString(), tt.method)
			}
			if _, ok := dp.Attributes.Value("path"); ok {
				t.Error("raw path leaked into metric attributes")
			}
		})
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	m, _, exp := testSetup(t)
	ts := httptest.NewServer(Middleware(m)(parleyMux(t)))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/conversation"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial through middleware: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("handshake status = %d, want 101", resp.StatusCode)
	}
	if cid := resp.Header.Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("handshake X-Correlation-ID = %q", cid)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("hallo")); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hallo" {
		t.Errorf("echo = %q", data)
	}
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v (%v)", websocket.CloseStatus(err), err)
	}

	// The span ends when the handler returns, after the conversation closes.
	deadline := time.Now().Add(2 * time.Second)
	for len(exp.GetSpans()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	spans := exp.GetSpans().Snapshots()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "HTTP GET /v1/conversation" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("recorded status = %d, want 101", v.AsInt64())
	}
	if v, _ := spanAttr(spans[0], "http.route"); v.AsString() != "GET /v1/conversation" {
		t.Errorf("http.route = %q", v.AsString())
	}
}

func TestStatusRecorder_ExposesUnderlyingWriter(t *testing.T) {
	t.Parallel()

	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}

	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
	// httptest.ResponseRecorder cannot be hijacked; the error must surface
	// and the recorded status must stay untouched.
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack succeeded on a writer without hijack support")
	}
	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d after failed hijack", rec.statusCode)
	}
	if err := http.NewResponseController(rec).Flush(); err != nil {
		t.Errorf("Flush through Unwrap: %v", err)
	}
	if !inner.Flushed {
		t.Error("flush did not reach the wrapped writer")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)

	var capturedCID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		capturedCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(m)(mux)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{}`))
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedCID != traceID {
		t.Errorf("correlation ID = %q, want %q", capturedCID, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response traceparent = %q, want trace %s", tp, traceID)
	}
}
