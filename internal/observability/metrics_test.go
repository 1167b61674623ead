package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/missionctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("commander.local", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectAttempt(true)
	RecordConnectAttempt(false)
	RecordPublish("orders_queue", true)
	RecordMissionCreated()
	RecordStatusReport(ReportApplied)
	RecordTokenIssued()
	RecordStoreFallback("get")
	MissionStarted()
	MissionFinished("COMPLETED")
	RecordReportDropped()

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestStatusReportCounterByResult(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(statusReports.WithLabelValues(ReportRejected))
	RecordStatusReport(ReportRejected)
	RecordStatusReport(ReportRejected)
	after := testutil.ToFloat64(statusReports.WithLabelValues(ReportRejected))
	if after-before != 2 {
		t.Fatalf("expected two rejected reports recorded, got delta %v", after-before)
	}
}

func TestRequestMiddlewareRecordsRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware("commander.test"))
	r.GET("/missions/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("commander.test", "GET", "/missions/:id", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missions/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("commander.test", "GET", "/missions/:id", "404"))
	if after-before != 1 {
		t.Fatalf("expected request counted under route template, delta=%v", after-before)
	}
}
