package event

import (
	"context"

	"github.com/lockergrid/core/internal/store"
)

// StateChangeTopic is the topic StateChanged notifications are published
// under when a Bus also carries them (kept distinct from per-kiosk event
// topics so a subscriber can pick either feed independently).
const StateChangeTopic = "state_changed"

// ChangeBusAdapter implements store.ChangeBus by forwarding onto a Bus,
// letting the out-of-scope WebSocket fan-out collaborator subscribe to
// locker transitions the same way it subscribes to audit events. This
// package may import internal/store (the reverse import does not exist)
// without creating a cycle.
type ChangeBusAdapter struct {
	bus Bus
}

func NewChangeBusAdapter(bus Bus) *ChangeBusAdapter {
	return &ChangeBusAdapter{bus: bus}
}

func (a *ChangeBusAdapter) PublishStateChanged(ctx context.Context, evt store.StateChanged) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Publish(ctx, StateChangeTopic, Message{
		Topic: StateChangeTopic,
		Record: Record{
			KioskID:   &evt.KioskID,
			LockerID:  &evt.LockerID,
			EventType: "state_changed:" + string(evt.Old) + "->" + string(evt.New),
			Details:   "{}",
		},
	})
}

var _ store.ChangeBus = (*ChangeBusAdapter)(nil)
