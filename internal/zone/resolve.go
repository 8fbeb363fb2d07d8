// Package zone resolves a locker id to the physical hardware coil that
// drives it: which zone the locker belongs to, its position within that
// zone, and from there the Modbus slave address and channel. It is a pure
// function of a configuration snapshot — it never mutates configuration
// (that is the Config Manager's job, see internal/config).
package zone

import (
	"errors"
	"fmt"

	"github.com/lockergrid/core/internal/config"
)

// ErrNotFound is returned when a locker id cannot be mapped to hardware:
// either it falls outside every zone's ranges, or its position within its
// zone exceeds that zone's relay card capacity.
var ErrNotFound = errors.New("zone: locker id has no hardware mapping")

// Mapping is the resolved hardware address for one locker.
type Mapping struct {
	ZoneID       string
	SlaveAddress int
	Channel      int // 1..16
}

// Resolve maps lockerID to hardware using doc. When zones are enabled it
// finds the owning zone, computes the locker's 1-based position within
// that zone's concatenated ranges, and maps the position onto the zone's
// ordered relay card list (16 channels per card). When zones are disabled
// it falls back to the legacy linear mapping: card = ((id-1)/16)+1 (used
// directly as the slave address), channel = ((id-1)%16)+1.
func Resolve(doc config.Document, lockerID int) (Mapping, error) {
	if lockerID <= 0 {
		return Mapping{}, fmt.Errorf("%w: locker_id=%d", ErrNotFound, lockerID)
	}
	if !doc.Features.ZonesEnabled {
		return legacyResolve(lockerID), nil
	}

	z, position, ok := findPosition(doc.Zones, lockerID)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: locker_id=%d", ErrNotFound, lockerID)
	}

	capacity := len(z.RelayCards) * 16
	if position < 1 || position > capacity {
		return Mapping{}, fmt.Errorf("%w: locker_id=%d position=%d capacity=%d", ErrNotFound, lockerID, position, capacity)
	}

	cardIndex := (position - 1) / 16
	channel := ((position - 1) % 16) + 1
	return Mapping{
		ZoneID:       z.ID,
		SlaveAddress: z.RelayCards[cardIndex],
		Channel:      channel,
	}, nil
}

func legacyResolve(lockerID int) Mapping {
	card := ((lockerID - 1) / 16) + 1
	channel := ((lockerID - 1) % 16) + 1
	return Mapping{SlaveAddress: card, Channel: channel}
}

// findPosition locates the zone owning lockerID and the locker's 1-based
// position within that zone's ranges, concatenated in declaration order.
func findPosition(zones []config.Zone, lockerID int) (config.Zone, int, bool) {
	for _, z := range zones {
		offset := 0
		for _, r := range z.Ranges {
			width := r.End - r.Start + 1
			if lockerID >= r.Start && lockerID <= r.End {
				return z, offset + (lockerID - r.Start) + 1, true
			}
			offset += width
		}
	}
	return config.Zone{}, 0, false
}

// ByID returns the zone with the given id, if it is a known zone in doc
// (regardless of enabled state).
func ByID(doc config.Document, id string) (config.Zone, bool) {
	for _, z := range doc.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return config.Zone{}, false
}

// LockersInZone returns every locker id covered by zone z's ranges.
func LockersInZone(z config.Zone) []int {
	var ids []int
	for _, r := range z.Ranges {
		for id := r.Start; id <= r.End; id++ {
			ids = append(ids, id)
		}
	}
	return ids
}

// InZone reports whether lockerID falls within zone z's ranges.
func InZone(z config.Zone, lockerID int) bool {
	for _, r := range z.Ranges {
		if lockerID >= r.Start && lockerID <= r.End {
			return true
		}
	}
	return false
}
