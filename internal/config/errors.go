package config

import "errors"

// Sentinel validation errors. The HTTP boundary (internal/api) maps these
// onto status codes; nothing below that boundary should format an HTTP
// response directly.
var (
	ErrUnknownZone          = errors.New("config: unknown zone")
	ErrZoneRangeOverlap     = errors.New("config: zone ranges overlap")
	ErrDuplicateZoneID      = errors.New("config: duplicate zone id")
	ErrUnknownRelayCard     = errors.New("config: relay card not present in hardware inventory")
	ErrInvalidRelayCard     = errors.New("config: invalid relay card definition")
	ErrNoEnabledZoneToExtend = errors.New("config: no enabled zone available for automatic extension")
	ErrLockerZoneMismatch   = errors.New("config: locker id does not belong to the requested zone")
)
