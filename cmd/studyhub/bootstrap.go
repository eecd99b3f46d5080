package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/app"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/eventbus"
	"github.com/charlesng35/studyhub/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// runtimeDeps are the long-lived resources shared by the services of one process.
type runtimeDeps struct {
	cfg *app.Config
	db  *gorm.DB
	bus eventbus.Bus
	jwt *iauth.JWTService
	log *zap.Logger
}

// service is a built component ready to serve.
type service struct {
	name    string
	port    int
	handler http.Handler
	// run, when set, runs alongside the listener. An error stops the process.
	run func(ctx context.Context) error
	// stop runs after the listener shut down and before shared resources close.
	stop func(ctx context.Context) error
}

func run(ctx context.Context, flags *rootFlags, selected []component) error {
	cfg, err := loadApplicationConfig(flags.configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, serviceLabel(selected)); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Warn("generated runtime secret; tokens will not verify across processes", zap.String("key", key))
	}

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps, err := openDeps(ctx, cfg, selected, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			log.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	built := make([]*service, 0, len(selected))
	for _, c := range selected {
		svc, err := c.build(ctx, deps)
		if err != nil {
			stopServices(context.Background(), built, log)
			return fmt.Errorf("build %s: %w", c.name, err)
		}
		svc.name = c.name
		svc.port = resolvePort(flags.port, cfg.Server.Port, c.defaultPort, len(selected) > 1)
		built = append(built, svc)
	}

	return serve(ctx, cfg.Server, built, log)
}

func openDeps(ctx context.Context, cfg *app.Config, selected []component, log *zap.Logger) (*runtimeDeps, error) {
	deps := &runtimeDeps{cfg: cfg, log: log}
	success := false
	defer func() {
		if !success {
			_ = deps.Close(context.Background())
		}
	}()

	var err error
	deps.jwt, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	var (
		models   []any
		needsDB  bool
		needsBus bool
	)
	for _, c := range selected {
		models = append(models, c.models...)
		needsDB = needsDB || len(c.models) > 0
		needsBus = needsBus || c.bus
	}

	if needsDB {
		if deps.db, err = initialiseDatabase(cfg, models); err != nil {
			return nil, err
		}
	}

	if needsBus {
		if deps.bus, err = openBus(ctx, cfg.Broker, len(selected) > 1); err != nil {
			return nil, err
		}
	}

	success = true
	return deps, nil
}

// Close tears the bus down before the store so in-flight deliveries can still commit.
func (d *runtimeDeps) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	var errs error
	if d.bus != nil {
		errs = multierr.Append(errs, d.bus.Close(ctx))
		d.bus = nil
	}
	if d.db != nil {
		errs = multierr.Append(errs, database.Close(d.db))
		d.db = nil
	}
	return errs
}

func serve(ctx context.Context, cfg app.ServerConfig, services []*service, log *zap.Logger) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	g, gctx := errgroup.WithContext(ctx)
	servers := make([]*http.Server, 0, len(services))

	for _, svc := range services {
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", svc.port),
			Handler:      svc.handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		}
		servers = append(servers, server)

		name := svc.name
		g.Go(func() error {
			log.Info("server listening", zap.String("service", name), zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		})

		if svc.run != nil {
			runFn := svc.run
			g.Go(func() error {
				if err := runFn(gctx); err != nil && gctx.Err() == nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs error
		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = multierr.Append(errs, fmt.Errorf("graceful shutdown: %w", err))
			}
		}
		// Hijacked subscription sockets are not tracked by Shutdown.
		cancelBase()
		stopServices(shutdownCtx, services, log)
		return errs
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

func stopServices(ctx context.Context, services []*service, log *zap.Logger) {
	for _, svc := range services {
		if svc.stop == nil {
			continue
		}
		if err := svc.stop(ctx); err != nil {
			log.Warn("service shutdown failed", zap.String("service", svc.name), zap.Error(err))
		}
	}
}

// resolvePort picks the --port flag, then server.port, then the service default.
// Overrides are ignored when several services share the process.
func resolvePort(flag, configured, fallback int, shared bool) int {
	switch {
	case shared:
		return fallback
	case flag > 0:
		return flag
	case configured > 0:
		return configured
	default:
		return fallback
	}
}

func openBus(ctx context.Context, cfg app.BrokerConfig, shared bool) (eventbus.Bus, error) {
	log := logger.WithModule("eventbus")
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case app.BrokerMemory:
		if !shared {
			log.Warn("in-memory broker only delivers events inside this process")
		}
		return eventbus.NewMemoryBus(eventbus.MemoryOptions{MaxDeliver: cfg.MaxDeliver}), nil
	case app.BrokerNATS, "":
		bus, err := eventbus.DialNATS(ctx, eventbus.NATSConfig{
			URL:            cfg.URL,
			Name:           cfg.Name,
			ConnectTimeout: cfg.ConnectTimeout,
			AckWait:        cfg.AckWait,
			MaxDeliver:     cfg.MaxDeliver,
		})
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config, models []any) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db, models...); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver), zap.Int("collections", len(models)))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	}

	return dbCfg
}

// serviceLabel names the process in every log entry.
func serviceLabel(selected []component) string {
	names := make([]string, len(selected))
	for i, c := range selected {
		names[i] = c.name
	}
	return strings.Join(names, "+")
}
