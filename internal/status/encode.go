// internal/status/encode.go
package status

// Report is the display form of a snapshot.
type Report struct {
	Device         string `json:"device"`
	Health         string `json:"health"`
	LastErrorCode  uint16 `json:"last_error_code"`
	LastError      string `json:"last_error,omitempty"`
	SecondsInError uint16 `json:"seconds_in_error"`
}

// Encode converts a Snapshot into its display form.
// No IO. No side effects.
func Encode(device string, s Snapshot) Report {
	return Report{
		Device:         device,
		Health:         HealthName(s.Health),
		LastErrorCode:  s.LastErrorCode,
		LastError:      s.LastError,
		SecondsInError: s.SecondsInError,
	}
}
