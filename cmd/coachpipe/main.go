package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/coachpipe/coachpipe/internal/api"
	"github.com/coachpipe/coachpipe/internal/config"
	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/lockfile"
	"github.com/coachpipe/coachpipe/internal/policy"
	"github.com/coachpipe/coachpipe/internal/profile"
	"github.com/coachpipe/coachpipe/internal/provider"
	"github.com/coachpipe/coachpipe/internal/router"
	"github.com/coachpipe/coachpipe/internal/scheduler"
	"github.com/coachpipe/coachpipe/internal/stage"
	"github.com/coachpipe/coachpipe/internal/store"
	"github.com/coachpipe/coachpipe/internal/worker"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	cfg := config.Load()

	// Parse command line flags
	parseCommandLineFlags(&cfg)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(cfg); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CoachPipe with configured modules")
	if err := run(cfg); err != nil {
		slog.Error("CoachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachPipe exited successfully")
}

// initializeLogger sets up structured logging for the application
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevelFromEnv(),
	}))
	slog.SetDefault(logger)
	slog.Debug("Structured logger initialized")
}

// logLevelFromEnv maps $LOG_LEVEL to a slog level, defaulting to debug.
func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	redisAddr     *string
	providersFile *string
	rulesFile     *string
	sweepCron     *string
}

// parseCommandLineFlags parses flags, using environment values as defaults,
// and writes the results back into the config.
func parseCommandLineFlags(cfg *config.Config) {
	flags := Flags{
		stateDir:      flag.String("state-dir", cfg.StateDir, "state directory for CoachPipe data (overrides $COACHPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", cfg.DatabaseDSN, "database DSN for the thread store (overrides $COACHPIPE_DB_DSN or $DATABASE_URL)"),
		apiAddr:       flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		redisAddr:     flag.String("redis-addr", cfg.RedisAddr, "Redis address for user profiles (overrides $REDIS_ADDR)"),
		providersFile: flag.String("providers-file", cfg.ProvidersFile, "JSON file with provider configs (overrides $COACHPIPE_PROVIDERS_FILE)"),
		rulesFile:     flag.String("rules-file", cfg.RulesFile, "JSON file with routing rules (overrides $COACHPIPE_RULES_FILE)"),
		sweepCron:     flag.String("sweep-cron", cfg.SweepCron, "cron schedule for the stale-thread sweep (overrides $COACHPIPE_SWEEP_CRON)"),
	}

	flag.Parse()

	// Keep the SQLite default tracking an overridden state directory
	if *flags.dbDSN == cfg.DatabaseDSN && cfg.DatabaseDSN == filepath.Join(cfg.StateDir, config.DefaultDBFileName) && *flags.stateDir != cfg.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, config.DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	cfg.StateDir = *flags.stateDir
	cfg.DatabaseDSN = *flags.dbDSN
	cfg.APIAddr = *flags.apiAddr
	cfg.RedisAddr = *flags.redisAddr
	cfg.ProvidersFile = *flags.providersFile
	cfg.RulesFile = *flags.rulesFile
	cfg.SweepCron = *flags.sweepCron

	slog.Debug("flags parsed",
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseDSN != "",
		"apiAddr", cfg.APIAddr,
		"redisAddr_set", cfg.RedisAddr != "",
		"sweepCron", cfg.SweepCron)
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(cfg config.Config) error {
	if store.DetectDSNType(cfg.DatabaseDSN) == "sqlite" {
		stateDir := filepath.Dir(cfg.DatabaseDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, store.DefaultDirPermissions); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the thread store from the configured DSN.
func buildStore(cfg config.Config) (store.Store, error) {
	if store.DetectDSNType(cfg.DatabaseDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(cfg.DatabaseDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DatabaseDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(cfg.DatabaseDSN))
}

// buildProfileStore uses Redis when an address is configured, otherwise
// falls back to the in-memory store.
func buildProfileStore(cfg config.Config) profile.Store {
	if cfg.RedisAddr == "" {
		slog.Debug("No Redis address configured, using in-memory profile store")
		return profile.NewInMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	slog.Debug("Configured Redis profile store", "addr", cfg.RedisAddr)
	return profile.NewRedisStore(client)
}

// buildRouter registers configured providers and routing rules.
func buildRouter(cfg config.Config) (*router.Router, error) {
	rtr := router.New(router.NewMetrics(prometheus.DefaultRegisterer))

	providerCfgs, err := config.LoadProviders(cfg)
	if err != nil {
		return nil, err
	}
	for _, pc := range providerCfgs {
		p, err := provider.New(pc)
		if err != nil {
			return nil, err
		}
		if err := rtr.AddProvider(p); err != nil {
			return nil, err
		}
		slog.Info("main.buildRouter: provider registered", "id", pc.ID, "type", pc.Type, "fallbackOrder", pc.FallbackOrder)
	}

	rules, err := config.LoadRules(cfg)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		rtr.AddRule(rule)
		slog.Info("main.buildRouter: routing rule registered", "id", rule.ID, "provider", rule.Provider, "priority", rule.Priority)
	}

	return rtr, nil
}

// run wires the modules together and serves until interrupted.
func run(cfg config.Config) error {
	// SQLite state dirs must not be shared between instances
	if store.DetectDSNType(cfg.DatabaseDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(cfg.DatabaseDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	profiles := buildProfileStore(cfg)
	defer profiles.Close()

	rtr, err := buildRouter(cfg)
	if err != nil {
		return err
	}

	ledgers := ledger.NewManager()
	machine := stage.NewMachine(ledgers)
	pol := policy.NewEngine(policy.Config{
		ProfanityFilter: cfg.ProfanityFilter,
		PIIFilter:       cfg.PIIFilter,
		EvidenceMode:    cfg.EvidenceMode,
	})

	w := worker.NewChatWorker(st, profiles, rtr, ledgers, machine, pol, worker.NewEmitter())
	if persona := strings.TrimSpace(cfg.Persona); persona != "" {
		w.SetPersona(persona)
	}

	sched := scheduler.NewScheduler()
	if err := sched.AddJob(cfg.SweepCron, scheduler.StaleThreadSweep(st, cfg.StaleThreadWindow)); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(w, rtr, st)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(cfg.APIAddr)
	}()
	slog.Info("main.run: API server started", "addr", cfg.APIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("main.run: shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
