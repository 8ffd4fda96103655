// internal/ops/ops_test.go
package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/orchestrator"
	"github.com/tamzrod/datalogger/internal/status"
)

type fakeSource struct {
	snap orchestrator.Snapshot
}

func (f fakeSource) Status() orchestrator.Snapshot { return f.snap }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	src := fakeSource{snap: orchestrator.Snapshot{
		Logging: true,
		Session: 4,
		Storage: true,
		Boards:  []string{"08", "0A"},
		Devices: []status.Report{{Device: "serial", Health: "OK"}},
	}}
	h := New(src, nil, nil).Handler()

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got orchestrator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.snap, got)
}

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.Command("START")
	h := New(fakeSource{}, m, nil).Handler()

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `datalogger_server_commands_total{command="START"} 1`)
}

func TestMetrics_Disabled(t *testing.T) {
	h := New(fakeSource{}, nil, nil).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/ping").Code)
}
