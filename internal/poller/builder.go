// internal/poller/builder.go
package poller

import (
	"time"

	"github.com/tamzrod/datalogger/internal/config"
	pmodbus "github.com/tamzrod/datalogger/internal/poller/modbus"
)

// Build constructs a Poller for the configured I/O module.
// Connection is reused while healthy.
// On transport death, Poller discards the client and uses factory on a future tick.
// The first connection is made lazily so a missing module does not block startup.
func Build(g config.GPIOConfig) (*Poller, error) {
	// client factory: ONE attempt per call
	factory := func() (Client, error) {
		return pmodbus.New(pmodbus.Config{
			Endpoint: g.Endpoint,
			UnitID:   g.UnitID,
			Timeout:  time.Duration(g.TimeoutMs) * time.Millisecond,
		})
	}

	return New(
		Config{
			BoardID:  g.BoardID,
			Address:  g.Address,
			Interval: time.Duration(float64(time.Second) / g.SampleHz),
		},
		nil,
		factory,
	)
}
