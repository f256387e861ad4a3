package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
)

func TestObserveZScore(t *testing.T) {
	m := New()
	m.ObserveZScore(lms.WeightForAge, lms.OutcomeOK)
	m.ObserveZScore(lms.WeightForAge, lms.OutcomeOK)
	m.ObserveZScore(lms.BMIForAge, lms.OutcomeInvalidLMS)

	if got := testutil.ToFloat64(m.zscoreTotal.WithLabelValues("wfa", "ok")); got != 2 {
		t.Errorf("wfa/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.zscoreTotal.WithLabelValues("bfa", "invalid_lms")); got != 1 {
		t.Errorf("bfa/invalid_lms = %v, want 1", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveZScore(lms.WeightForAge, lms.OutcomeOK)
	nilMetrics.EventPublishFailed("growth.record.created")
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/growth-records/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		if c.Param("id") == "broken" {
			return errors.New("db down")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "missing", "broken"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/growth-records/"+id, nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	route := "/api/v1/growth-records/:id"
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", route, "200")); got != 2 {
		t.Errorf("200 count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", route, "404")); got != 1 {
		t.Errorf("404 count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", route, "500")); got != 1 {
		t.Errorf("500 count = %v, want 1", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveZScore(lms.HeadCircumferenceForAge, lms.OutcomeNoTable)
	m.EventPublishFailed("growth.record.created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`growth_zscore_calculations_total{chart="hcfa",outcome="no_table"} 1`,
		`growth_event_publish_failures_total{type="growth.record.created"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStreamMetrics(t *testing.T) {
	m := New()
	m.StreamFrameDropped()
	m.StreamFrameDropped()
	if got := testutil.ToFloat64(m.streamDropped); got != 2 {
		t.Errorf("stream dropped = %v, want 2", got)
	}

	clients := 3
	m.TrackStreamClients(func() int { return clients })
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP growth_stream_clients Connected growth stream clients.
# TYPE growth_stream_clients gauge
growth_stream_clients 3
`), "growth_stream_clients"); err != nil {
		t.Error(err)
	}

	var nilMetrics *Metrics
	nilMetrics.StreamFrameDropped()
}
