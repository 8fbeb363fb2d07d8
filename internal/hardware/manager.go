package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/zone"
)

// eventSink is the subset of *event.Logger a Manager needs, so tests can
// exercise OpenLocker/BurstLocker without a real sqlite-backed logger.
type eventSink interface {
	AppendTyped(ctx context.Context, kioskID *string, lockerID *int, eventType event.Type, rfidCard, staffUser string, details event.Details) error
}

// Manager resolves a locker id to hardware coordinates via internal/zone
// and drives the corresponding Serializer. One Manager exists per kiosk
// process; the Serializer inside it owns the kiosk's single serial port.
type Manager struct {
	cfgMgr  *config.Manager
	ser     *Serializer
	events  eventSink
	kioskID string
}

func NewManager(cfgMgr *config.Manager, ser *Serializer, events eventSink, kioskID string) *Manager {
	return &Manager{cfgMgr: cfgMgr, ser: ser, events: events, kioskID: kioskID}
}

// OpenLocker resolves lockerID against the current configuration and
// pulses the corresponding relay coil once.
func (m *Manager) OpenLocker(ctx context.Context, lockerID int) error {
	mapping, err := zone.Resolve(m.cfgMgr.Get(), lockerID)
	if err != nil {
		return fmt.Errorf("hardware: resolve locker %d: %w", lockerID, err)
	}
	if err := m.ser.Pulse(ctx, byte(mapping.SlaveAddress), uint16(mapping.Channel)); err != nil {
		m.reportFailure(ctx, lockerID, err, mapping.SlaveAddress, mapping.Channel)
		return err
	}
	return nil
}

// BurstLocker retries a stuck relay with repeated pulses.
func (m *Manager) BurstLocker(ctx context.Context, lockerID int) error {
	mapping, err := zone.Resolve(m.cfgMgr.Get(), lockerID)
	if err != nil {
		return fmt.Errorf("hardware: resolve locker %d: %w", lockerID, err)
	}
	if err := m.ser.Burst(ctx, byte(mapping.SlaveAddress), uint16(mapping.Channel)); err != nil {
		m.reportFailure(ctx, lockerID, err, mapping.SlaveAddress, mapping.Channel)
		return err
	}
	return nil
}

// reportFailure logs a hardware_error audit event (spec §4.3/§7) for a
// failed pulse or burst. Errors from the logger itself are swallowed: the
// caller already has the real error to return, and a failed audit write
// shouldn't mask the hardware fault that triggered it.
func (m *Manager) reportFailure(ctx context.Context, lockerID int, cause error, slaveAddress, channel int) {
	if m.events == nil {
		return
	}
	kind := KindDegraded
	var hwErr *HardwareError
	if errors.As(cause, &hwErr) {
		kind = hwErr.Kind
	}
	kioskID := m.kioskID
	_ = m.events.AppendTyped(ctx, &kioskID, &lockerID, event.TypeHardwareError, "", "", event.HardwareErrorPayload{
		Kind: string(kind), SlaveAddress: slaveAddress, Channel: channel,
	})
}

// Health exposes the underlying serializer's rolling counters.
func (m *Manager) Health() Health { return m.ser.GetHealth() }
