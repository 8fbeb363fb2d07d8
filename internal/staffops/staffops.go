// Package staffops implements the staff-facing operations of spec §4.9:
// single and bulk opens, block/unblock, and the emergency-open-all path,
// each emitting a staff_audit event.
package staffops

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/store"
)

// Actor identifies the staff member issuing a request.
type Actor struct {
	User      string
	IP        string
	UserAgent string
	SessionID string
}

// Ops wires the Command Queue, State Store, and Event Logger together
// for the staff panel's mutative endpoints.
type Ops struct {
	queue     *queue.Manager
	store     *store.Store
	events    *event.Logger
	heartbeat *heartbeat.Manager

	// EmergencyOpenRequiresConfirmation and ConfirmationPIN resolve
	// spec §9 Open Question #2 per SPEC_FULL.md: default false, and when
	// true the caller must present a PIN checked constant-time.
	EmergencyOpenRequiresConfirmation bool
	ConfirmationPIN                   string
}

func New(q *queue.Manager, s *store.Store, ev *event.Logger, hb *heartbeat.Manager) *Ops {
	return &Ops{queue: q, store: s, events: ev, heartbeat: hb}
}

func (o *Ops) audit(ctx context.Context, actor Actor, action, resourceType, resourceID, details string) {
	_ = o.events.AppendTyped(ctx, nil, nil, event.TypeStaffAudit, "", actor.User, event.StaffAuditPayload{
		User: actor.User, Action: action, ResourceType: resourceType, ResourceID: resourceID,
		Details: details, IP: actor.IP, UserAgent: actor.UserAgent, SessionID: actor.SessionID,
	})
}

// StaffOpen enqueues an open_locker command without touching ownership
// (spec §4.9: "never mutates ownership on its own").
func (o *Ops) StaffOpen(ctx context.Context, actor Actor, kioskID string, lockerID int, reason string) (string, error) {
	id, err := o.queue.Enqueue(ctx, kioskID, queue.TypeOpenLocker, map[string]any{"locker_id": lockerID, "reason": reason}, 3)
	if err != nil {
		return "", err
	}
	o.audit(ctx, actor, "staff_open", "locker", fmt.Sprintf("%s/%d", kioskID, lockerID), reason)
	return id, nil
}

// BulkOpen expands into individual enqueues, honoring excludeVip.
func (o *Ops) BulkOpen(ctx context.Context, actor Actor, kioskID string, lockerIDs []int, excludeVip bool, reason string) ([]string, error) {
	var ids []string
	for _, lockerID := range lockerIDs {
		if excludeVip {
			l, err := o.store.LookupLocker(ctx, kioskID, lockerID)
			if err == nil && l.IsVIP {
				continue
			}
		}
		id, err := o.queue.Enqueue(ctx, kioskID, queue.TypeOpenLocker, map[string]any{"locker_id": lockerID, "reason": reason}, 3)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	_ = o.events.AppendTyped(ctx, &kioskID, nil, event.TypeBulkOpen, "", actor.User, event.BulkOpenPayload{
		LockerIDs: lockerIDs, ExcludeVip: excludeVip, Reason: reason, IssuedBy: actor.User,
	})
	o.audit(ctx, actor, "bulk_open", "kiosk", kioskID, reason)
	return ids, nil
}

// Block updates the State Store and enqueues an advisory close.
func (o *Ops) Block(ctx context.Context, actor Actor, kioskID string, lockerID int, reason string) error {
	if _, err := o.store.Block(ctx, kioskID, lockerID, reason); err != nil {
		return err
	}
	if _, err := o.queue.Enqueue(ctx, kioskID, queue.TypeBlockLocker, map[string]any{"locker_id": lockerID, "reason": reason}, 3); err != nil {
		return err
	}
	o.audit(ctx, actor, "block_locker", "locker", fmt.Sprintf("%s/%d", kioskID, lockerID), reason)
	return nil
}

// Unblock returns a locker to Free and enqueues an advisory unblock.
func (o *Ops) Unblock(ctx context.Context, actor Actor, kioskID string, lockerID int) error {
	if _, err := o.store.Unblock(ctx, kioskID, lockerID); err != nil {
		return err
	}
	if _, err := o.queue.Enqueue(ctx, kioskID, queue.TypeUnblockLocker, map[string]any{"locker_id": lockerID}, 3); err != nil {
		return err
	}
	o.audit(ctx, actor, "unblock_locker", "locker", fmt.Sprintf("%s/%d", kioskID, lockerID), "")
	return nil
}

// EmergencyOpenAll enqueues opens for every Owned locker on every online
// kiosk. Gated by EmergencyOpenRequiresConfirmation per SPEC_FULL.md's
// resolution of spec §9 Open Question #2.
func (o *Ops) EmergencyOpenAll(ctx context.Context, actor Actor, reason, presentedPIN string) (int, error) {
	if o.EmergencyOpenRequiresConfirmation && subtle.ConstantTimeCompare([]byte(presentedPIN), []byte(o.ConfirmationPIN)) != 1 {
		return 0, fmt.Errorf("staffops: confirmation pin required")
	}

	kiosks, err := o.heartbeat.OnlineKioskIDs(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, kioskID := range kiosks {
		owned, err := o.store.OwnedLockerIDs(ctx, kioskID)
		if err != nil {
			continue
		}
		for _, lockerID := range owned {
			if _, err := o.queue.Enqueue(ctx, kioskID, queue.TypeOpenLocker, map[string]any{"locker_id": lockerID, "reason": reason}, 3); err == nil {
				count++
			}
		}
	}
	o.audit(ctx, actor, "emergency_open_all", "system", "*", reason)
	return count, nil
}
