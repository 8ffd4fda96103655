// internal/metrics/metrics_test.go
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCommand_BoundsCardinality(t *testing.T) {
	m := New()
	m.Command("START")
	m.Command("START")
	m.Command("XYZZY")
	m.Command("PLUGH")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.commands.WithLabelValues("START")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.commands.WithLabelValues("unknown")))
}

func TestFrameAndGauges(t *testing.T) {
	m := New()
	m.Frame(0x0A, FrameOK)
	m.Connected(1)
	m.Connected(1)
	m.Connected(-1)
	m.SetLogging(true)
	m.DownloadBlock()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.frames.WithLabelValues("0A", FrameOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.logging))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.downloadBlocks))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Command("START")
	m.Frame(1, FrameError)
	m.DeviceError("serial")
	m.Connected(1)
	m.SetLogging(true)
	m.DownloadBlock()
}
