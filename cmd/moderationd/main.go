// moderationd is the moderation core server: the tenant-scoped punishment,
// linking, appeal and audit backend behind the game-server and panel APIs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modl-gg/panel-core/internal/api/minecraft"
	"github.com/modl-gg/panel-core/internal/api/panel"
	"github.com/modl-gg/panel-core/internal/appeals"
	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/config"
	"github.com/modl-gg/panel-core/internal/ipinfo"
	"github.com/modl-gg/panel-core/internal/jobs"
	"github.com/modl-gg/panel-core/internal/linking"
	"github.com/modl-gg/panel-core/internal/logging"
	"github.com/modl-gg/panel-core/internal/metrics"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/rollback"
	"github.com/modl-gg/panel-core/internal/server"
	"github.com/modl-gg/panel-core/internal/status"
	"github.com/modl-gg/panel-core/internal/storage"
	"github.com/modl-gg/panel-core/internal/storage/memstore"
	"github.com/modl-gg/panel-core/internal/storage/postgres"
	"github.com/modl-gg/panel-core/internal/tenant"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string
	var dev bool

	cmd := &cobra.Command{
		Use:           "moderationd",
		Short:         "Multi-tenant Minecraft moderation core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file")
	cmd.PersistentFlags().BoolVar(&dev, "dev", false, "run against an in-memory store with a seeded tenant")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if dev {
				cfg.DevMode = true
			}
			return run(cfg)
		},
	}
	cmd.AddCommand(serve)
	return cmd
}

func run(cfg *config.Config) error {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	var provider storage.Provider
	if cfg.DevMode {
		provider = devProvider()
		log.Warn().Msg("dev mode: using in-memory store with tenant key 'dev-key'")
	} else {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		provider = db
	}

	var ips ipinfo.Resolver = ipinfo.Static{}
	if cfg.GeoIPCityPath != "" || cfg.GeoIPASNPath != "" || cfg.GeoIPAnonPath != "" {
		resolver, err := ipinfo.Open(ipinfo.Paths{
			City:      cfg.GeoIPCityPath,
			ASN:       cfg.GeoIPASNPath,
			Anonymous: cfg.GeoIPAnonPath,
		}, log)
		if err != nil {
			return fmt.Errorf("open geoip databases: %w", err)
		}
		defer resolver.Close()
		ips = resolver
	}

	m := metrics.New()
	registries := registry.NewCache(cfg.RegistryTTL, log)
	auditw := audit.NewWriter(log)
	engine := punishment.NewEngine(registries, auditw, tierFunc, log)
	linker := linking.NewLinker(auditw, log)
	propagator := linking.NewPropagator(auditw, log)
	queue := notify.NewQueue()
	appealWF := appeals.NewWorkflow(registries, auditw, log)
	rollbacks := rollback.NewEngine(auditw, log)
	runner := jobs.NewRunner(cfg.JobWorkers, cfg.JobQueueSize, log)

	srv := server.New(server.Deps{
		Config:  cfg,
		Tenants: tenant.NewMiddleware(provider, cfg.JWTSecret, log),
		Minecraft: minecraft.New(minecraft.Deps{
			Registries: registries,
			Engine:     engine,
			Queue:      queue,
			Linker:     linker,
			Propagator: propagator,
			Runner:     runner,
			IPs:        ips,
			Metrics:    m,
			Log:        log,
		}),
		Panel: panel.New(panel.Deps{
			Registries: registries,
			Engine:     engine,
			Appeals:    appealWF,
			Rollbacks:  rollbacks,
			Queue:      queue,
			Metrics:    m,
			Log:        log,
		}),
		Metrics: m,
		Log:     log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := srv.Run(ctx, cfg.ShutdownTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if jerr := runner.Shutdown(drainCtx); jerr != nil {
		log.Warn().Err(jerr).Msg("background jobs did not drain in time")
	}
	return err
}

// tierFunc bridges the status calculator into the punishment engine without
// an import cycle.
func tierFunc(p *models.Player, reg *registry.Registry, category string, now time.Time) string {
	return status.RelevantTier(status.Calculate(p, reg, now), category)
}

// devProvider seeds one tenant for local development.
func devProvider() storage.Provider {
	p := memstore.NewProvider()
	p.Register("dev-key", "localhost", memstore.New("dev"))
	return p
}
