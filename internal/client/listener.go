// internal/client/listener.go
package client

import "github.com/tamzrod/datalogger/internal/wire"

// Listener receives client-side protocol events. Methods are called with
// the machine lock held and must not call back into the machine.
type Listener interface {
	StateChanged(state string)
	LoggingStarted()
	LoggingStopped()
	SessionList(sessions []wire.SessionInfo)
	DataBlock(sessionID int64, lines []string)
	CacheLine(line string)
	Boards(ids []string)
	LoggerError(msg string)
	ProcessStarted(what string)
	ProcessFinished()
}

// NopListener implements Listener with no-ops; embed it to pick events.
type NopListener struct{}

func (NopListener) StateChanged(string)            {}
func (NopListener) LoggingStarted()                {}
func (NopListener) LoggingStopped()                {}
func (NopListener) SessionList([]wire.SessionInfo) {}
func (NopListener) DataBlock(int64, []string)      {}
func (NopListener) CacheLine(string)               {}
func (NopListener) Boards([]string)                {}
func (NopListener) LoggerError(string)             {}
func (NopListener) ProcessStarted(string)          {}
func (NopListener) ProcessFinished()               {}
