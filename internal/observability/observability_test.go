package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.Disabled,
		"verbose":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), "level %q", in)
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "sequencer", zerolog.InfoLevel)
	logger.Debug().Msg("hidden")
	logger.Info().Int64("sequence", 7).Msg("applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sequencer", line["component"])
	assert.Equal(t, "applied", line["message"])
	assert.EqualValues(t, 7, line["sequence"])
	assert.Contains(t, line, "time")
}

func TestReadiness(t *testing.T) {
	h := NewHealthChecker()
	var natsDown error
	h.Register("nats", func(context.Context) error { return natsDown })

	get := func(handler http.HandlerFunc) (int, map[string]any) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := get(h.ReadinessHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before recovery")
	assert.Equal(t, false, body["recovered"])

	h.SetReady(true)
	code, _ = get(h.ReadinessHandler)
	assert.Equal(t, http.StatusOK, code)

	natsDown = errors.New("disconnected")
	code, body = get(h.ReadinessHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]any{"nats": "disconnected"}, body["failures"])

	code, body = get(h.LivenessHandler)
	assert.Equal(t, http.StatusOK, code, "liveness ignores checks")
	assert.Equal(t, "alive", body["status"])
}

func TestMetricsRegisterOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RPCRequests.WithLabelValues("GetAum", "OK").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "amx_rpc_requests_total" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
			found = true
		}
	}
	assert.True(t, found)

	assert.Panics(t, func() { NewMetrics(reg) }, "metric names are registered once per registry")
}
