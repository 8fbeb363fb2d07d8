package hardware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/event"
)

// fakeEventSink records AppendTyped calls without touching a database, so
// Manager's hardware_error emission can be asserted in isolation.
type fakeEventSink struct {
	calls []event.Type
}

func (f *fakeEventSink) AppendTyped(ctx context.Context, kioskID *string, lockerID *int, eventType event.Type, rfidCard, staffUser string, details event.Details) error {
	f.calls = append(f.calls, eventType)
	return nil
}

func testManagerConfig(t *testing.T) *config.Manager {
	t.Helper()
	cfgMgr, err := config.NewManager(t.TempDir() + "/config.json")
	require.NoError(t, err)
	_, err = cfgMgr.Update(func(d *config.Document) error {
		d.Features.ZonesEnabled = false
		return nil
	})
	require.NoError(t, err)
	return cfgMgr
}

func TestOpenLockerEmitsHardwareErrorOnDeadPort(t *testing.T) {
	port := newFakePort()
	port.fail = true
	ser := New(testConfig(), port)
	ser.Start(context.Background())
	defer ser.Stop()

	sink := &fakeEventSink{}
	mgr := NewManager(testManagerConfig(t), ser, sink, "kiosk-1")

	err := mgr.OpenLocker(context.Background(), 1)
	require.Error(t, err)
	require.Equal(t, []event.Type{event.TypeHardwareError}, sink.calls)
}

func TestOpenLockerSucceedsWithoutEmittingAnyEvent(t *testing.T) {
	port := newFakePort()
	ser := New(testConfig(), port)
	ser.Start(context.Background())
	defer ser.Stop()

	sink := &fakeEventSink{}
	mgr := NewManager(testManagerConfig(t), ser, sink, "kiosk-1")

	err := mgr.OpenLocker(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, sink.calls)
}
