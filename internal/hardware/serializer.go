package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lockergrid/core/internal/log"
	"github.com/lockergrid/core/internal/metrics"
)

// Config tunes the serializer's timing per spec §4.3 / §6 defaults.
type Config struct {
	KioskID          string
	PulseDurationMs  int
	BurstIntervalMs  int
	BurstPulses      int
	MaxRetries       int
	InterCommandGap  time.Duration
	UseMultipleCoils bool
	QueueSize        int
}

func DefaultConfig(kioskID string) Config {
	return Config{
		KioskID:         kioskID,
		PulseDurationMs: 400,
		BurstIntervalMs: 2000,
		BurstPulses:     5,
		MaxRetries:      2,
		InterCommandGap: 300 * time.Millisecond,
		QueueSize:       64,
	}
}

// job is one unit of work submitted to the serializer's single inbound
// channel; this is the "owned actor" model spec §9 requires in place of
// mutex-protected functions.
type job struct {
	run    func() error
	result chan error
}

// Serializer owns a Port exclusively and executes exactly one in-flight
// Modbus transaction at a time, enforcing the minimum inter-command gap
// and routing every request through a circuit breaker.
type Serializer struct {
	cfg  Config
	port Port

	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup

	breaker *gobreaker.CircuitBreaker[struct{}]

	mu          sync.Mutex
	health      Health
	lastCommand time.Time
}

// Health is the rolling telemetry exposed via GetHealth (spec §4.3).
type Health struct {
	TotalCommands  int64
	FailedCommands int64
	LastErrorAt    int64 // UTC millis, 0 if none
	LastErrorKind  ErrorKind
	BreakerState   gobreaker.State
}

func New(cfg Config, port Port) *Serializer {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	s := &Serializer{cfg: cfg, port: port, jobs: make(chan job, cfg.QueueSize)}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "hardware:" + cfg.KioskID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.HardwareBreakerState.WithLabelValues(cfg.KioskID).Set(float64(to))
			log.L().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("hardware circuit breaker state change")
		},
	})
	return s
}

// Start runs the single-goroutine worker loop that drains jobs.
func (s *Serializer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop drains in-flight work and closes the port. Any pulse already
// mid-flight is allowed to attempt its OFF write before the worker exits
// (spec §5: "an OFF-write is always attempted on the timeout path").
func (s *Serializer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.port.Close()
}

func (s *Serializer) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.throttle()
			j.result <- j.run()
		}
	}
}

func (s *Serializer) throttle() {
	s.mu.Lock()
	since := time.Since(s.lastCommand)
	s.mu.Unlock()
	if since < s.cfg.InterCommandGap {
		time.Sleep(s.cfg.InterCommandGap - since)
	}
	s.mu.Lock()
	s.lastCommand = time.Now()
	s.mu.Unlock()
}

// submit enqueues run and blocks for its result, respecting ctx.
func (s *Serializer) submit(ctx context.Context, run func() error) error {
	j := job{run: run, result: make(chan error, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pulse performs one ON -> wait pulse_duration_ms -> OFF cycle on
// (slave, channel), retrying transient failures up to MaxRetries with a
// bounded backoff. It returns success only after the OFF write commits.
func (s *Serializer) Pulse(ctx context.Context, slave byte, channel uint16) error {
	start := time.Now()
	defer func() { metrics.HardwareCommandDuration.Observe(time.Since(start).Seconds()) }()

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.submit(ctx, func() error { return s.pulseOnce(slave, channel) })
	})
	s.record(err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.HardwareCommands.WithLabelValues(s.cfg.KioskID, "failed").Inc()
			return ErrDegraded
		}
		metrics.HardwareCommands.WithLabelValues(s.cfg.KioskID, "failed").Inc()
		return &HardwareError{Kind: classify(err), SlaveAddress: slave, Channel: channel, Cause: err}
	}
	metrics.HardwareCommands.WithLabelValues(s.cfg.KioskID, "success").Inc()
	return nil
}

func (s *Serializer) pulseOnce(slave byte, channel uint16) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.HardwareCommands.WithLabelValues(s.cfg.KioskID, "retry").Inc()
			time.Sleep(backoff(attempt))
		}
		if err := s.writeCoil(slave, channel, true); err != nil {
			lastErr = err
			continue
		}
		time.Sleep(time.Duration(s.cfg.PulseDurationMs) * time.Millisecond)
		// The OFF write is always attempted, even on a context deadline,
		// to avoid leaving a coil latched (spec §5).
		offErr := s.writeCoil(slave, channel, false)
		if offErr != nil {
			lastErr = offErr
			continue
		}
		return nil
	}
	return lastErr
}

// Burst fires up to BurstPulses ON/OFF cycles separated by
// BurstIntervalMs, for stuck relays (spec §4.3).
func (s *Serializer) Burst(ctx context.Context, slave byte, channel uint16) error {
	for i := 0; i < s.cfg.BurstPulses; i++ {
		if err := s.Pulse(ctx, slave, channel); err != nil {
			return err
		}
		if i < s.cfg.BurstPulses-1 {
			time.Sleep(time.Duration(s.cfg.BurstIntervalMs) * time.Millisecond)
		}
	}
	return nil
}

func (s *Serializer) writeCoil(slave byte, channel uint16, on bool) error {
	coil := channel - 1
	frame := buildWriteSingleCoil(slave, coil, on)
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	resp := make([]byte, 8)
	n, err := s.port.Read(resp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if n < len(frame) {
		// go.bug.st/serial returns a short read with nil error on timeout.
		return ErrTimeout
	}
	return validateResponse(frame, resp[:n])
}

func backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 50 * time.Millisecond
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}

func (s *Serializer) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.TotalCommands++
	s.health.BreakerState = s.breaker.State()
	if err != nil {
		s.health.FailedCommands++
		s.health.LastErrorAt = time.Now().UTC().UnixMilli()
		s.health.LastErrorKind = classify(err)
	}
}

// GetHealth returns a snapshot of rolling counters (spec §4.3).
func (s *Serializer) GetHealth() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}
