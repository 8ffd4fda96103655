// internal/metrics/metrics.go
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "datalogger"

// Metrics holds the process collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	connections    prometheus.Gauge
	logging        prometheus.Gauge
	commands       *prometheus.CounterVec
	frames         *prometheus.CounterVec
	deviceErrors   *prometheus.CounterVec
	downloadBlocks prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		logging: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logging",
			Help:      "1 while a logging session is running.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Protocol commands received, by leading token.",
		}, []string{"command"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "frames_total",
			Help:      "Board frames handled, by board id and result.",
		}, []string{"board", "result"}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "errors_total",
			Help:      "Device exchange failures, by manager.",
		}, []string{"manager"}),
		downloadBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "download_blocks_total",
			Help:      "Download blocks sent to clients.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.logging,
		m.commands,
		m.frames,
		m.deviceErrors,
		m.downloadBlocks,
	)
	return m
}

// known command tokens; anything else is counted as "unknown" to bound cardinality.
var known = map[string]bool{
	"START": true, "STOP": true, "UPDATE": true, "DOWNLOAD": true, "BOARD": true,
	"BOARDS": true, "GETSESSIONS": true, "RESET": true, "ISLOGGING": true, "ACK": true,
}

func (m *Metrics) Command(token string) {
	if m == nil {
		return
	}
	if !known[token] {
		token = "unknown"
	}
	m.commands.WithLabelValues(token).Inc()
}

func (m *Metrics) Connected(delta int) {
	if m == nil {
		return
	}
	m.connections.Add(float64(delta))
}

func (m *Metrics) SetLogging(on bool) {
	if m == nil {
		return
	}
	if on {
		m.logging.Set(1)
	} else {
		m.logging.Set(0)
	}
}

// Frame results.
const (
	FrameOK      = "ok"
	FrameUnknown = "unknown"
	FrameError   = "error"
)

func (m *Metrics) Frame(board uint8, result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(fmt.Sprintf("%02X", board), result).Inc()
}

func (m *Metrics) DeviceError(manager string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(manager).Inc()
}

func (m *Metrics) DownloadBlock() {
	if m == nil {
		return
	}
	m.downloadBlocks.Inc()
}
