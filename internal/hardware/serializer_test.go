package hardware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePort echoes back a valid ACK for every write, matching how a
// well-behaved slave responds to func 0x05 writes.
type fakePort struct {
	mu     sync.Mutex
	writes [][]byte
	resp   chan []byte
	fail   bool
}

func newFakePort() *fakePort {
	return &fakePort{resp: make(chan []byte, 16)}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return 0, nil
	}
	// the slave echoes the request back verbatim on success.
	p.resp <- append([]byte(nil), b...)
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case r := <-p.resp:
		n := copy(b, r)
		return n, nil
	case <-time.After(200 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig("kiosk-1")
	cfg.PulseDurationMs = 1
	cfg.InterCommandGap = 0
	cfg.MaxRetries = 1
	return cfg
}

func TestPulseSucceedsOnGoodEcho(t *testing.T) {
	port := newFakePort()
	s := New(testConfig(), port)
	s.Start(context.Background())
	defer s.Stop()

	err := s.Pulse(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, port.writes, 2) // ON then OFF
}

func TestPulseRetriesThenFailsOnDeadPort(t *testing.T) {
	port := newFakePort()
	port.fail = true
	s := New(testConfig(), port)
	s.Start(context.Background())
	defer s.Stop()

	err := s.Pulse(context.Background(), 1, 7)
	require.Error(t, err)
	h := s.GetHealth()
	require.EqualValues(t, 1, h.FailedCommands)
}

func TestBurstFiresConfiguredPulseCount(t *testing.T) {
	port := newFakePort()
	cfg := testConfig()
	cfg.BurstPulses = 3
	cfg.BurstIntervalMs = 1
	s := New(cfg, port)
	s.Start(context.Background())
	defer s.Stop()

	err := s.Burst(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Len(t, port.writes, 6) // 3 pulses x (ON,OFF)
}

func TestCRC16RoundTripsThroughSingleCoilFrame(t *testing.T) {
	// 01 05 00 06 FF 00 -> CRC should validate round trip through frame build.
	frame := buildWriteSingleCoil(1, 6, true)
	require.Len(t, frame, 8)
	require.NoError(t, validateResponse(frame, frame))
}
