// Command gateway runs LockerGrid's northbound HTTP API: kiosk
// provisioning and heartbeat, the command queue's HTTP face, and the
// staff-facing locker/command endpoints (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockergrid/core/internal/api/gateway"
	"github.com/lockergrid/core/internal/auth"
	"github.com/lockergrid/core/internal/cli"
	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/envcfg"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/health"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/log"
	"github.com/lockergrid/core/internal/provisioning"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/runtime"
	"github.com/lockergrid/core/internal/schema"
	"github.com/lockergrid/core/internal/staffops"
	"github.com/lockergrid/core/internal/store"
	"github.com/lockergrid/core/internal/telemetry"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(cli.RunHealthcheck(os.Args[2:], "lockergrid-gateway", 8080))
		case "config":
			os.Exit(cli.RunConfigCLI(os.Args[2:], "lockergrid-gateway", "./config/system.json"))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config/system.json (overrides LOCKERGRID_CONFIG_PATH)")
	flag.Parse()

	if *showVersion {
		fmt.Println("lockergrid-gateway " + version)
		return
	}

	log.Configure(log.Config{
		Level:   envcfg.String("LOCKERGRID_LOG_LEVEL", "info"),
		Service: "gateway",
		Version: version,
		Pretty:  envcfg.Bool("LOCKERGRID_LOG_PRETTY", false),
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logger.Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPathFlag string) error {
	logger := log.WithComponent("main")

	cfgPath := configPathFlag
	if cfgPath == "" {
		cfgPath = envcfg.String("LOCKERGRID_CONFIG_PATH", "./config/system.json")
	}
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

	dbPath := envcfg.String("LOCKERGRID_DB_PATH", "./data/lockergrid.db")
	db, err := schema.Open(dbPath, schema.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlite")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      envcfg.Bool("LOCKERGRID_TRACING_ENABLED", false),
		ServiceName:  "gateway",
		Version:      version,
		Environment:  envcfg.String("LOCKERGRID_ENVIRONMENT", "production"),
		Endpoint:     envcfg.String("LOCKERGRID_OTLP_ENDPOINT", "localhost:4318"),
		SamplingRate: 1.0,
	})
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}

	bus := event.NewMemoryBus()
	events := event.New(sqlxDB, bus)
	st := store.New(db, events, event.NewChangeBusAdapter(bus))

	q := queue.NewManager(sqlxDB, events)
	hb := heartbeat.NewManager(db)
	provSecret := []byte(envcfg.String("LOCKERGRID_PROVISIONING_SECRET", "dev-provisioning-secret-change-me"))
	prov := provisioning.NewManager(db, provSecret)
	// Staff bearer sessions are signed with a secret shared with the panel
	// process, which owns login and staff user storage; the gateway only
	// validates sessions, it never issues or stores staff credentials.
	staffSessionSecret := []byte(envcfg.String("LOCKERGRID_STAFF_SESSION_SECRET", "dev-staff-session-secret-change-me"))
	staffSessions := auth.NewStaffSessions(staffSessionSecret)
	ops := staffops.New(q, st, events, hb)
	ops.EmergencyOpenRequiresConfirmation = cfgMgr.Get().Features.EmergencyOpenRequiresConfirmation
	ops.ConfirmationPIN = envcfg.String("LOCKERGRID_EMERGENCY_PIN", "")

	healthMgr := health.NewManager(version)
	healthMgr.Register(health.NewDBChecker(db))
	healthMgr.Register(health.NewFleetChecker(hb.CountOnline))

	srv := gateway.NewServer(gateway.Config{
		ConfigManager:  cfgMgr,
		Store:          st,
		Queue:          q,
		Heartbeat:      hb,
		Provisioning:   prov,
		StaffOps:       ops,
		StaffAuth:      staffSessions,
		Health:         healthMgr,
		PanelURL:       envcfg.String("LOCKERGRID_PANEL_URL", ""),
		Version:        version,
		AllowedOrigins: envcfg.StringSlice("LOCKERGRID_ALLOWED_ORIGINS", []string{"*"}),
	})

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go runSweepers(sweepCtx, st, q, hb)

	mgr := runtime.NewManager(runtime.Config{
		ListenAddr:      envcfg.String("LOCKERGRID_GATEWAY_LISTEN_ADDR", ":8080"),
		Handler:         srv.Router(),
		MetricsAddr:     envcfg.String("LOCKERGRID_METRICS_LISTEN_ADDR", ":9090"),
		MetricsHandler:  promhttp.Handler(),
		ReadTimeout:     envcfg.Duration("LOCKERGRID_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    envcfg.Duration("LOCKERGRID_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     envcfg.Duration("LOCKERGRID_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: envcfg.Duration("LOCKERGRID_SHUTDOWN_TIMEOUT", 15*time.Second),
		Logger:          *log.L(),
	})
	mgr.RegisterShutdownHook("tracing", tp.Shutdown)
	mgr.RegisterShutdownHook("database", func(context.Context) error { return db.Close() })

	logger.Info().Str("version", version).Str("db", dbPath).Msg("gateway starting")
	return mgr.Run(ctx)
}

// runSweepers drives every background sweeper the gateway owns on a
// shared tick: reservation expiry, opening-state timeouts, queue lease
// reclaim, offline detection, and VIP contract expiry.
func runSweepers(ctx context.Context, st *store.Store, q *queue.Manager, hb *heartbeat.Manager) {
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
			if n, err := q.SweepExpiredLeases(ctx); err != nil {
				logger.Warn().Err(err).Msg("queue lease sweep failed")
			} else if n > 0 {
				logger.Debug().Int("count", n).Msg("reclaimed expired command leases")
			}
			if n, err := hb.SweepOffline(ctx); err != nil {
				logger.Warn().Err(err).Msg("heartbeat offline sweep failed")
			} else if n > 0 {
				logger.Debug().Int("count", n).Msg("marked kiosks offline")
			}
			if n, err := st.ExpireDueVipContracts(ctx, nowMillis); err != nil {
				logger.Warn().Err(err).Msg("vip contract expiry sweep failed")
			} else if n > 0 {
				logger.Debug().Int("count", n).Msg("expired vip contracts")
			}
		}
	}
}

const (
	reservationTTLMillis = 90_000 // spec §4.1 default reservation TTL
	openingTimeoutMillis = 20_000 // spec §9 Open Question 4 default opening_timeout
)
