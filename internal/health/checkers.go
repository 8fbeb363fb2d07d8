package health

import (
	"context"
	"database/sql"
)

// DBChecker verifies the sqlite connection is reachable.
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker { return &DBChecker{db: db} }

func (c *DBChecker) Name() string    { return "database" }
func (c *DBChecker) Type() CheckType { return CheckHealth | CheckReadiness }

func (c *DBChecker) Check(ctx context.Context) CheckResult {
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// HardwareChecker reports the kiosk's serializer circuit breaker state.
type HardwareChecker struct {
	getState func() (breakerOpen bool, consecutiveFailures int)
}

func NewHardwareChecker(getState func() (bool, int)) *HardwareChecker {
	return &HardwareChecker{getState: getState}
}

func (c *HardwareChecker) Name() string    { return "hardware_serializer" }
func (c *HardwareChecker) Type() CheckType { return CheckHealth }

func (c *HardwareChecker) Check(context.Context) CheckResult {
	open, failures := c.getState()
	if open {
		return CheckResult{Status: StatusUnhealthy, Message: "circuit breaker open"}
	}
	if failures > 0 {
		return CheckResult{Status: StatusDegraded, Message: "recent pulse failures"}
	}
	return CheckResult{Status: StatusHealthy, Message: "serial port responsive"}
}

// FleetChecker reports whether any kiosks are reachable, for the
// gateway's health report: a gateway with zero online kiosks can still
// accept reservations (they queue) but QR/RFID flows that need a live
// pulse will degrade, so it's surfaced as degraded rather than down.
type FleetChecker struct {
	countOnline func(ctx context.Context) (int, error)
}

func NewFleetChecker(countOnline func(context.Context) (int, error)) *FleetChecker {
	return &FleetChecker{countOnline: countOnline}
}

func (c *FleetChecker) Name() string    { return "kiosk_fleet" }
func (c *FleetChecker) Type() CheckType { return CheckHealth }

func (c *FleetChecker) Check(ctx context.Context) CheckResult {
	n, err := c.countOnline(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if n == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no kiosks online"}
	}
	return CheckResult{Status: StatusHealthy, Message: "kiosks online"}
}
