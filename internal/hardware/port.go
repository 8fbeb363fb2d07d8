package hardware

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal transport the serializer needs; satisfied by
// go.bug.st/serial.Port and by a fake in tests.
type Port interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// PortConfig describes the RS-485 line parameters (spec §6: "9600 bps
// 8N1 by default").
type PortConfig struct {
	Path        string
	BaudRate    int
	ReadTimeout time.Duration
}

func DefaultPortConfig(path string) PortConfig {
	return PortConfig{Path: path, BaudRate: 9600, ReadTimeout: 500 * time.Millisecond}
}

// OpenSerialPort opens the physical RS-485 line.
func OpenSerialPort(cfg PortConfig) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("hardware: open serial port %s: %w", cfg.Path, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("hardware: set read timeout: %w", err)
	}
	return p, nil
}
