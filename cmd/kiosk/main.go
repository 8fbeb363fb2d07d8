// Command kiosk runs a single locker kiosk: the QR/RFID local LAN
// surface (spec §4.7, §4.8), the Modbus/RS-485 hardware serializer
// (spec §4.3), and a background client that heartbeats and drains
// staff-issued commands from the gateway (spec §4.4, §4.5).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/lockergrid/core/internal/api/kiosklocal"
	"github.com/lockergrid/core/internal/cli"
	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/envcfg"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/gatewayclient"
	"github.com/lockergrid/core/internal/hardware"
	"github.com/lockergrid/core/internal/health"
	"github.com/lockergrid/core/internal/kioskidentity"
	"github.com/lockergrid/core/internal/log"
	"github.com/lockergrid/core/internal/qrproto"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/ratelimit"
	"github.com/lockergrid/core/internal/rfidsession"
	"github.com/lockergrid/core/internal/runtime"
	"github.com/lockergrid/core/internal/schema"
	"github.com/lockergrid/core/internal/store"
	"github.com/lockergrid/core/internal/zone"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(cli.RunHealthcheck(os.Args[2:], "lockergrid-kiosk", 8082))
		case "config":
			os.Exit(cli.RunConfigCLI(os.Args[2:], "lockergrid-kiosk", "./config/system.json"))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lockergrid-kiosk " + version)
		return
	}

	log.Configure(log.Config{
		Level:   envcfg.String("LOCKERGRID_LOG_LEVEL", "info"),
		Service: "kiosk",
		Version: version,
		Pretty:  envcfg.Bool("LOCKERGRID_LOG_PRETTY", false),
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("kiosk exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := log.WithComponent("main")

	identityPath := envcfg.String("LOCKERGRID_IDENTITY_PATH", "./data/identity.json")
	gatewayURL := envcfg.String("LOCKERGRID_GATEWAY_URL", "http://localhost:8080")
	hardwareID := envcfg.String("LOCKERGRID_HARDWARE_ID", "")
	if hardwareID == "" {
		return fmt.Errorf("LOCKERGRID_HARDWARE_ID is required")
	}

	id, ok, err := kioskidentity.Load(identityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !ok {
		token := envcfg.String("LOCKERGRID_PROVISIONING_TOKEN", "")
		if token == "" {
			return fmt.Errorf("kiosk not yet registered: set LOCKERGRID_PROVISIONING_TOKEN for first boot")
		}
		kioskID, secret, err := gatewayclient.Register(ctx, gatewayURL, token, hardwareID, version)
		if err != nil {
			return fmt.Errorf("register with gateway: %w", err)
		}
		id = kioskidentity.Identity{KioskID: kioskID, HardwareID: hardwareID, Secret: secret, Zone: envcfg.String("LOCKERGRID_ZONE", "")}
		if err := kioskidentity.Save(identityPath, id); err != nil {
			return fmt.Errorf("persist identity: %w", err)
		}
		logger.Info().Str("kiosk_id", kioskID).Msg("registered with gateway")
	}

	cfgPath := envcfg.String("LOCKERGRID_CONFIG_PATH", "./config/system.json")
	cfgMgr, err := config.NewManager(cfgPath)
	if err != nil {
		return fmt.Errorf("load configuration document: %w", err)
	}
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := cfgMgr.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	dbPath := envcfg.String("LOCKERGRID_DB_PATH", "./data/kiosk.db")
	db, err := schema.Open(dbPath, schema.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlite")

	bus := event.NewMemoryBus()
	events := event.New(sqlxDB, bus)
	st := store.New(db, events, event.NewChangeBusAdapter(bus))
	for _, lockerID := range lockerIDsToSeed(cfgMgr.Get()) {
		if err := st.EnsureLocker(ctx, id.KioskID, lockerID); err != nil {
			return fmt.Errorf("seed locker rows: %w", err)
		}
	}

	port, err := hardware.OpenSerialPort(hardware.DefaultPortConfig(envcfg.String("LOCKERGRID_SERIAL_PORT", "/dev/ttyUSB0")))
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	ser := hardware.New(hardware.DefaultConfig(id.KioskID), port)
	ser.Start(ctx)
	defer ser.Stop()
	hw := hardware.NewManager(cfgMgr, ser, events, id.KioskID)

	tokenSecret := []byte(envcfg.String("LOCKERGRID_QR_TOKEN_SECRET", "dev-qr-token-secret-change-me"))
	issuer := qrproto.NewIssuer(tokenSecret)
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.DefaultRules())

	rfid := rfidsession.NewManager(
		func(s rfidsession.Session) {
			kioskID := id.KioskID
			_ = events.AppendTyped(context.Background(), &kioskID, nil, event.TypeSessionExpired, s.UID, "", nil)
		},
		func(kioskID string) {
			_ = events.AppendTyped(context.Background(), &kioskID, nil, event.TypeSessionCancelled, "", "", nil)
		},
	)
	go runSessionSweeper(ctx, rfid)

	healthMgr := health.NewManager(version)
	healthMgr.Register(health.NewDBChecker(db))
	healthMgr.Register(health.NewHardwareChecker(func() (bool, int) {
		h := ser.GetHealth()
		return h.BreakerState == gobreaker.StateOpen, int(h.FailedCommands)
	}))

	srv := kiosklocal.NewServer(kiosklocal.Config{
		KioskID:      id.KioskID,
		ZoneID:       id.Zone,
		ConfigMgr:    cfgMgr,
		Store:        st,
		Hardware:     hw,
		Issuer:       issuer,
		Limiter:      limiter,
		RFIDSessions: rfid,
		Events:       events,
		Health:       healthMgr,
	})

	client := gatewayclient.New(gatewayURL, id.KioskID, id.HardwareID, id.Secret)
	go runGatewayLoop(ctx, client, st, hw, cfgMgr, version)
	go runLocalSweepers(ctx, st)

	mgr := runtime.NewManager(runtime.Config{
		ListenAddr:      envcfg.String("LOCKERGRID_KIOSK_LISTEN_ADDR", ":8082"),
		Handler:         srv.Router(),
		MetricsAddr:     envcfg.String("LOCKERGRID_METRICS_LISTEN_ADDR", ":9092"),
		MetricsHandler:  promhttp.Handler(),
		ReadTimeout:     envcfg.Duration("LOCKERGRID_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    envcfg.Duration("LOCKERGRID_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     envcfg.Duration("LOCKERGRID_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: envcfg.Duration("LOCKERGRID_SHUTDOWN_TIMEOUT", 15*time.Second),
		Logger:          *log.L(),
	})
	mgr.RegisterShutdownHook("database", func(context.Context) error { return db.Close() })
	mgr.RegisterShutdownHook("serial port", func(context.Context) error { ser.Stop(); return nil })

	logger.Info().Str("version", version).Str("kiosk_id", id.KioskID).Msg("kiosk starting")
	return mgr.Run(ctx)
}

// runSessionSweeper evicts expired RFID "pick a locker" sessions on a
// fixed tick, replacing one timer per session (spec §9).
func runSessionSweeper(ctx context.Context, rfid *rfidsession.Manager) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rfid.Sweep(now)
		}
	}
}

// runLocalSweepers runs this kiosk's own reservation-expiry and
// opening-timeout sweepers against its local State Store rows.
func runLocalSweepers(ctx context.Context, st *store.Store) {
	logger := log.WithComponent("sweeper")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			nowMillis := now.UTC().UnixMilli()
			if n, err := st.ExpireReservations(ctx, nowMillis-reservationTTLMillis); err != nil {
				logger.Warn().Err(err).Msg("expire reservations sweep failed")
			} else if n > 0 {
				logger.Debug().Int("count", n).Msg("expired reservations")
			}
			if n, err := st.SweepOpeningTimeouts(ctx, nowMillis-openingTimeoutMillis); err != nil {
				logger.Warn().Err(err).Msg("opening timeout sweep failed")
			} else if n > 0 {
				logger.Debug().Int("count", n).Msg("swept back stuck openings")
			}
		}
	}
}

// runGatewayLoop heartbeats on a fixed interval and drains any
// staff-issued commands the gateway has queued for this kiosk.
func runGatewayLoop(ctx context.Context, client *gatewayclient.Client, st *store.Store, hw *hardware.Manager, cfgMgr *config.Manager, version string) {
	logger := log.WithComponent("gateway_client")
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	restarted := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			_, err := client.Heartbeat(hbCtx, version, cfgMgr.Hash(), restarted, "process_start")
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
				continue
			}
			restarted = false

			pollCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			cmds, err := client.PollCommands(pollCtx, 10)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("poll commands failed")
				continue
			}
			for _, cmd := range cmds {
				execCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				execErr := executeCommand(execCtx, st, hw, cmd)
				cancel()
				if execErr != nil {
					logger.Warn().Err(execErr).Str("command_id", cmd.CommandID).Msg("command execution failed")
					_ = client.FailCommand(ctx, cmd.CommandID, execErr.Error())
					continue
				}
				_ = client.CompleteCommand(ctx, cmd.CommandID)
			}
		}
	}
}

// lockerIDsToSeed enumerates every locker id this kiosk's local State
// Store needs a row for, derived from the zones (or legacy linear
// capacity) this kiosk's configuration document describes.
func lockerIDsToSeed(doc config.Document) []int {
	if doc.Features.ZonesEnabled {
		var ids []int
		for _, z := range doc.Zones {
			ids = append(ids, zone.LockersInZone(z)...)
		}
		return ids
	}
	capacity := doc.Hardware.EnabledCapacity()
	ids := make([]int, capacity)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

func executeCommand(ctx context.Context, st *store.Store, hw *hardware.Manager, cmd queue.Command) error {
	var payload struct {
		LockerID int `json:"locker_id"`
	}
	_ = json.Unmarshal([]byte(cmd.Payload), &payload)

	switch queue.Type(cmd.Type) {
	case queue.TypeOpenLocker, queue.TypeResetLocker, queue.TypeBuzzer:
		return hw.OpenLocker(ctx, payload.LockerID)
	case queue.TypeBlockLocker:
		_, err := st.Block(ctx, cmd.KioskID, payload.LockerID, "staff command")
		return err
	case queue.TypeUnblockLocker:
		_, err := st.Unblock(ctx, cmd.KioskID, payload.LockerID)
		return err
	default:
		return fmt.Errorf("unsupported command type %q", cmd.Type)
	}
}

const (
	reservationTTLMillis = 90_000
	openingTimeoutMillis = 20_000
)
