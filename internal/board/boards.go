// internal/board/boards.go
package board

import "fmt"

// Board is the capability every expansion board variant provides.
// Boards are stateless; the registry keys them by ID.
type Board interface {
	ID() uint8
	Name() string
	Decode(raw string) (Frame, error)
	Variables(f Frame) []Variable
}

// Variable is one named value extracted from a frame.
type Variable struct {
	Name  string
	Value float64
}

// window is a named (start, length) slice of the payload buffer.
type window struct {
	name   string
	start  int
	length int
}

// windowed boards extract fixed payload windows.
type windowed struct {
	id      uint8
	name    string
	windows []window
}

func (b windowed) ID() uint8                        { return b.id }
func (b windowed) Name() string                     { return b.name }
func (b windowed) Decode(raw string) (Frame, error) { return Decode(raw) }

func (b windowed) Variables(f Frame) []Variable {
	out := make([]Variable, 0, len(b.windows))
	for _, w := range b.windows {
		out = append(out, Variable{Name: w.name, Value: float64(f.Number(w.start, w.length))})
	}
	return out
}

// ---- board ids ----

const (
	GPIOID       uint8 = 0x03
	BasicID      uint8 = 0x08
	MotorID      uint8 = 0x09
	NetScannerID uint8 = 0x0A
)

// Basic is the five-channel 12-bit ADC expansion board.
func Basic() Board {
	return windowed{
		id:   BasicID,
		name: "basic",
		windows: []window{
			{"adc_channel_one", 0, 12},
			{"adc_channel_two", 12, 12},
			{"adc_channel_three", 24, 12},
			{"adc_channel_four", 36, 12},
			{"adc_channel_five", 48, 12},
		},
	}
}

// Motor is the closed-loop motor controller board.
func Motor() Board {
	return windowed{
		id:   MotorID,
		name: "motor",
		windows: []window{
			{"raw_adc", 0, 16},
			{"motor_value", 16, 16},
			{"set_point", 32, 16},
		},
	}
}

// GPIO reports eight digital inputs, one payload bit each.
func GPIO(id uint8) Board {
	ws := make([]window, 0, 8)
	for i := 0; i < 8; i++ {
		ws = append(ws, window{fmt.Sprintf("gpio_%d", i), i, 1})
	}
	return windowed{id: id, name: "gpio", windows: ws}
}

// ---- network scanner ----

// ScannerChannels is the channel count of the pressure scanner.
const ScannerChannels = 16

// ScannerGroup is the number of channels carried by one frame.
const ScannerGroup = 4

// NetScanner decodes pressure-scanner frames. The set flag selects the
// channel group; the payload buffer holds four 16-bit channel values.
func NetScanner(id uint8) Board {
	return scanner{id: id}
}

type scanner struct {
	id uint8
}

func (s scanner) ID() uint8                        { return s.id }
func (s scanner) Name() string                     { return "netscanner" }
func (s scanner) Decode(raw string) (Frame, error) { return Decode(raw) }

func (s scanner) Variables(f Frame) []Variable {
	group := -1
	for i := 0; i < ScannerChannels/ScannerGroup; i++ {
		if set, _ := f.Flag(i); set {
			group = i
			break
		}
	}
	if group < 0 {
		return nil
	}

	out := make([]Variable, 0, ScannerGroup)
	for i := 0; i < ScannerGroup; i++ {
		out = append(out, Variable{
			Name:  ScannerVariable(group*ScannerGroup + i),
			Value: float64(f.Number(i*16, 16)),
		})
	}
	return out
}

// ScannerVariable names scanner channel ch.
func ScannerVariable(ch int) string {
	return fmt.Sprintf("channel_%02d", ch)
}
