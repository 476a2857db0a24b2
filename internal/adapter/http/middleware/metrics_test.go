package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	testCases := []struct {
		name       string
		method     string
		path       string
		label      string
		statusCode int
	}{
		{
			name:       "labels by route pattern",
			method:     http.MethodGet,
			path:       "/agents/agent1alice",
			label:      "/agents/{address}",
			statusCode: http.StatusTeapot,
		},
		{
			name:       "static route",
			method:     http.MethodPost,
			path:       "/submit",
			label:      "/submit",
			statusCode: http.StatusCreated,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			httpRequestsTotal.Reset()
			httpRequestDuration.Reset()
			httpRequestsInFlight.Set(0)

			handlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(tc.statusCode)
			})

			r := chi.NewRouter()
			r.Use(Metrics)
			r.Get("/agents/{address}", next)
			r.Post("/submit", next)

			req := httptest.NewRequest(tc.method, tc.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if !handlerCalled {
				t.Fatalf("next handler was not invoked")
			}

			if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
				t.Fatalf("expected in-flight gauge to return to 0, got %v", got)
			}

			counter := httpRequestsTotal.WithLabelValues(tc.method, tc.label, strconv.Itoa(tc.statusCode))
			if got := testutil.ToFloat64(counter); got != 1 {
				t.Fatalf("expected counter to be 1, got %v", got)
			}
		})
	}
}

func TestMetricsMiddlewareCountsMailboxSessions(t *testing.T) {
	httpRequestsTotal.Reset()
	httpRequestDuration.Reset()
	mailboxSessions.Set(0)

	var during float64
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/mailbox", func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(mailboxSessions)
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	req := httptest.NewRequest(http.MethodGet, "/mailbox", nil)
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if during != 1 {
		t.Fatalf("expected one open session during the handler, got %v", during)
	}
	if got := testutil.ToFloat64(mailboxSessions); got != 0 {
		t.Fatalf("expected session gauge to return to 0, got %v", got)
	}
	if got := testutil.CollectAndCount(httpRequestDuration); got != 0 {
		t.Fatalf("mailbox sessions must not feed the latency histogram, got %d series", got)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/mailbox", "101")); got != 1 {
		t.Fatalf("expected upgrade to be counted, got %v", got)
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := routePattern(req); got != "unmatched" {
		t.Fatalf("expected unmatched, got %q", got)
	}
}
