// internal/status/constants.go
package status

// Device health codes.
// These values are reported on the ops surface and MUST NOT be configurable.

// HealthUnknown represents a device that has not been polled yet.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy device.
const HealthOK uint16 = 1

// HealthError represents a device whose last exchange failed.
const HealthError uint16 = 2

// HealthStopped represents a manager whose loop has exited.
const HealthStopped uint16 = 3

// ---- LIMITS ----

// MaxSecondsInError caps SecondsInError.
const MaxSecondsInError = 65535

// GenericErrorCode is reported for errors that carry no code of their own.
const GenericErrorCode uint16 = 1

// HealthName returns the display name of a health code.
func HealthName(h uint16) string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
