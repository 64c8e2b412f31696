package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClient_InjectsTraceContext(t *testing.T) {
	_, _, exp := testSetup(t)

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, span := StartSpan(context.Background(), "caller")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := HTTPClient(time.Second).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	span.End()

	traceID := span.SpanContext().TraceID().String()
	if !strings.Contains(traceparent, traceID) {
		t.Errorf("traceparent = %q, want trace ID %s", traceparent, traceID)
	}

	var client bool
	for _, s := range exp.GetSpans() {
		if strings.HasPrefix(s.Name, "HTTP GET ") && s.Parent.TraceID().String() == traceID {
			client = true
		}
	}
	if !client {
		t.Errorf("no client span recorded under trace %s", traceID)
	}
}
