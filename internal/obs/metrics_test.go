package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuthMetricsObserve(t *testing.T) {
	var sink AuthMetrics
	sink.Observe("login", 25*time.Millisecond, true)
	sink.Observe("login", 10*time.Millisecond, false)
	sink.Observe("refresh", time.Millisecond, true)

	if got := testutil.ToFloat64(authOperationsTotal.WithLabelValues("login", "true")); got < 1 {
		t.Fatalf("expected login success counter >= 1, got %v", got)
	}
	if got := testutil.ToFloat64(authOperationsTotal.WithLabelValues("login", "false")); got < 1 {
		t.Fatalf("expected login failure counter >= 1, got %v", got)
	}
}

func TestSetStoreUp(t *testing.T) {
	SetStoreUp("postgres", true)
	if got := testutil.ToFloat64(storeUp.WithLabelValues("postgres")); got != 1 {
		t.Fatalf("expected store_up=1, got %v", got)
	}
	SetStoreUp("postgres", false)
	if got := testutil.ToFloat64(storeUp.WithLabelValues("postgres")); got != 0 {
		t.Fatalf("expected store_up=0, got %v", got)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rr.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418")); got < 1 {
		t.Fatalf("expected request counted, got %v", got)
	}
}
