// Command panel runs LockerGrid's staff-facing HTTP surface: login,
// bulk and emergency open, block/unblock, VIP contract management, and
// the audit log viewer (spec §4.9, §4.10).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lockergrid/core/internal/api/panel"
	"github.com/lockergrid/core/internal/auth"
	"github.com/lockergrid/core/internal/cli"
	"github.com/lockergrid/core/internal/envcfg"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/log"
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
			os.Exit(cli.RunHealthcheck(os.Args[2:], "lockergrid-panel", 8081))
		case "config":
			os.Exit(cli.RunConfigCLI(os.Args[2:], "lockergrid-panel", "./config/system.json"))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	bootstrapUser := flag.String("bootstrap-admin", "", "create an admin staff user USERNAME:PASSWORD and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("lockergrid-panel " + version)
		return
	}

	log.Configure(log.Config{
		Level:   envcfg.String("LOCKERGRID_LOG_LEVEL", "info"),
		Service: "panel",
		Version: version,
		Pretty:  envcfg.Bool("LOCKERGRID_LOG_PRETTY", false),
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *bootstrapUser); err != nil {
		logger.Error().Err(err).Msg("panel exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, bootstrapUser string) error {
	logger := log.WithComponent("main")

	dbPath := envcfg.String("LOCKERGRID_DB_PATH", "./data/lockergrid.db")
	db, err := schema.Open(dbPath, schema.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlite")

	staffUsers := auth.NewStaffUsers(db)

	if bootstrapUser != "" {
		username, password, err := splitCredentials(bootstrapUser)
		if err != nil {
			return err
		}
		if err := staffUsers.Create(ctx, username, password, "admin"); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info().Str("username", username).Msg("bootstrap admin created")
		return nil
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      envcfg.Bool("LOCKERGRID_TRACING_ENABLED", false),
		ServiceName:  "panel",
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
	ops := staffops.New(q, st, events, hb)

	staffSessionSecret := []byte(envcfg.String("LOCKERGRID_STAFF_SESSION_SECRET", "dev-staff-session-secret-change-me"))
	staffSessions := auth.NewStaffSessions(staffSessionSecret)

	srv := panel.NewServer(panel.Config{
		Ops:            ops,
		Store:          st,
		Events:         events,
		Users:          staffUsers,
		Sessions:       staffSessions,
		AllowedOrigins: envcfg.StringSlice("LOCKERGRID_ALLOWED_ORIGINS", []string{"*"}),
	})

	mgr := runtime.NewManager(runtime.Config{
		ListenAddr:      envcfg.String("LOCKERGRID_PANEL_LISTEN_ADDR", ":8081"),
		Handler:         srv.Router(),
		MetricsAddr:     envcfg.String("LOCKERGRID_METRICS_LISTEN_ADDR", ":9091"),
		MetricsHandler:  promhttp.Handler(),
		ReadTimeout:     envcfg.Duration("LOCKERGRID_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    envcfg.Duration("LOCKERGRID_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     envcfg.Duration("LOCKERGRID_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: envcfg.Duration("LOCKERGRID_SHUTDOWN_TIMEOUT", 15*time.Second),
		Logger:          *log.L(),
	})
	mgr.RegisterShutdownHook("tracing", tp.Shutdown)
	mgr.RegisterShutdownHook("database", func(context.Context) error { return db.Close() })

	logger.Info().Str("version", version).Str("db", dbPath).Msg("panel starting")
	return mgr.Run(ctx)
}

func splitCredentials(raw string) (username, password string, err error) {
	username, password, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", fmt.Errorf("bootstrap-admin must be USERNAME:PASSWORD")
	}
	return username, password, nil
}
