package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentRecordsStatusClass(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("probe", "4xx"))

	h := Instrument("probe", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("probe", "4xx")))
	assert.Zero(t, testutil.ToFloat64(InFlight.WithLabelValues("probe")))
}

func TestInstrumentFiberUsesFiberErrorCode(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("fiber-probe", "5xx"))

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/x", InstrumentFiber("fiber-probe"), func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "going away")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("fiber-probe", "5xx")))
}

func TestMetricsHandlerExposesHeartbeatSeries(t *testing.T) {
	SetBuildInfo("test", "abc123")
	HeartbeatsReceived.Add(0)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	for _, name := range []string{
		"subalive_heartbeats_received_total",
		"subalive_receiver_state",
		`subalive_build_info{git_sha="abc123",version="test"} 1`,
	} {
		assert.True(t, strings.Contains(text, name), "missing %s", name)
	}
}
