// internal/config/normalize.go
package config

// Defaults applied by Normalize.
const (
	DefaultListen            = ":8999"
	DefaultDownloadBlockSize = 100
	DefaultLogLevel          = "info"

	DefaultBaudRate       = 57600
	DefaultReadTimeoutMs  = 3000
	DefaultPollIntervalMs = 1000
	DefaultMaxRetries     = 5

	DefaultScannerBoardID   = 0x0A
	DefaultScannerSampleHz  = 2
	DefaultScannerTimeoutMs = 3000

	DefaultGPIOBoardID   = 0x03
	DefaultGPIOSampleHz  = 5
	DefaultGPIOTimeoutMs = 1000

	DefaultNotifySubject = "datalogger.notices"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.DownloadBlockSize == 0 {
		cfg.Server.DownloadBlockSize = DefaultDownloadBlockSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	// ---- serial ----
	s := &cfg.Serial
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.ReadTimeoutMs == 0 {
		s.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if s.PollIntervalMs == 0 {
		s.PollIntervalMs = DefaultPollIntervalMs
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}

	// ---- scanner ----
	n := &cfg.NetScanner
	if n.BoardID == 0 {
		n.BoardID = DefaultScannerBoardID
	}
	if n.SampleHz == 0 {
		n.SampleHz = DefaultScannerSampleHz
	}
	if n.TimeoutMs == 0 {
		n.TimeoutMs = DefaultScannerTimeoutMs
	}
	if n.MaxRetries == 0 {
		n.MaxRetries = DefaultMaxRetries
	}

	// ---- gpio ----
	g := &cfg.GPIO
	if g.BoardID == 0 {
		g.BoardID = DefaultGPIOBoardID
	}
	if g.SampleHz == 0 {
		g.SampleHz = DefaultGPIOSampleHz
	}
	if g.TimeoutMs == 0 {
		g.TimeoutMs = DefaultGPIOTimeoutMs
	}

	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNotifySubject
	}
}
