// internal/config/validate.go
package config

import (
	"fmt"
)

// serialBoards are the ids of the fixed serial board variants.
var serialBoards = map[uint8]string{
	0x08: "basic",
	0x09: "motor",
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// SERVER / LOG
	// ------------------------------------------------------------

	if cfg.Server.DownloadBlockSize < 0 {
		return fmt.Errorf("server: download_block_size must be >= 0, got %d", cfg.Server.DownloadBlockSize)
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}

	if cfg.Storage.CacheSize < 0 {
		return fmt.Errorf("storage: cache_size must be >= 0, got %d", cfg.Storage.CacheSize)
	}

	// ------------------------------------------------------------
	// SERIAL
	// ------------------------------------------------------------

	s := cfg.Serial
	for name, v := range map[string]int{
		"baud_rate":        s.BaudRate,
		"read_timeout_ms":  s.ReadTimeoutMs,
		"poll_interval_ms": s.PollIntervalMs,
		"max_retries":      s.MaxRetries,
	} {
		if v < 0 {
			return fmt.Errorf("serial: %s must be >= 0, got %d", name, v)
		}
	}

	seenPort := make(map[string]bool)
	for _, p := range s.Ports {
		if p == "" {
			return fmt.Errorf("serial: empty port name")
		}
		if seenPort[p] {
			return fmt.Errorf("serial: port %q listed twice", p)
		}
		seenPort[p] = true
	}

	// ------------------------------------------------------------
	// NETWORK SCANNER / GPIO
	// ------------------------------------------------------------

	owner := make(map[uint8]string, len(serialBoards)+2)
	for id, name := range serialBoards {
		owner[id] = name
	}

	claim := func(device string, id uint8) error {
		if prev, ok := owner[id]; ok {
			return fmt.Errorf("%s: board_id 0x%02X already used by %s", device, id, prev)
		}
		owner[id] = device
		return nil
	}

	n := cfg.NetScanner
	if n.Enabled {
		if n.Address == "" {
			return fmt.Errorf("netscanner: address required")
		}
		if n.SampleHz < 0 || n.TimeoutMs < 0 || n.MaxRetries < 0 {
			return fmt.Errorf("netscanner: sample_hz, timeout_ms and max_retries must be >= 0")
		}
		if err := claim("netscanner", effectiveID(n.BoardID, DefaultScannerBoardID)); err != nil {
			return err
		}
	}

	g := cfg.GPIO
	if g.Enabled {
		if g.Endpoint == "" {
			return fmt.Errorf("gpio: endpoint required")
		}
		if g.SampleHz < 0 || g.TimeoutMs < 0 {
			return fmt.Errorf("gpio: sample_hz and timeout_ms must be >= 0")
		}
		if err := claim("gpio", effectiveID(g.BoardID, DefaultGPIOBoardID)); err != nil {
			return err
		}
	}

	return nil
}

func effectiveID(id, def uint8) uint8 {
	if id == 0 {
		return def
	}
	return id
}
