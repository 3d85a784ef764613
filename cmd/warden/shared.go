package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/capability"
	"github.com/jkaninda/warden/internal/capability/file"
	"github.com/jkaninda/warden/internal/capability/mcpbridge"
	"github.com/jkaninda/warden/internal/capability/shell"
	"github.com/jkaninda/warden/internal/capability/system"
	"github.com/jkaninda/warden/internal/capability/web"
	"github.com/jkaninda/warden/internal/classifier"
	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/credential"
	"github.com/jkaninda/warden/internal/dispatcher"
	"github.com/jkaninda/warden/internal/governor"
	"github.com/jkaninda/warden/internal/notification"
	"github.com/jkaninda/warden/internal/observability"
	"github.com/jkaninda/warden/internal/pending"
	"github.com/jkaninda/warden/internal/sandbox"
	"github.com/jkaninda/warden/internal/secrets"
	"github.com/jkaninda/warden/internal/storage"
	pgstore "github.com/jkaninda/warden/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/warden/internal/storage/sqlite"
)

// SharedComponents holds the subsystems every command needs. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store
	Obs    *observability.Observability
	Vault  *credential.Vault
	Audit  audit.Sink

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig resolves the config path from the flag or WARDEN_CONFIG.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(goutils.Env("WARDEN_CONFIG", configPath))
}

// newLogger builds the JSON logger used by every command.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// initShared opens storage, the credential vault and the audit sinks.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})

	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	sc.Vault = credential.NewVault(credentialStore(cfg, store), logger,
		credential.WithMinLength(cfg.Security.MinLength()))

	fileLog, err := audit.NewFileLogger(cfg.AuditLogPath(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}
	sc.addCleanup(func() { _ = fileLog.Close() })
	sinks := audit.Multi{fileLog, audit.StoreSink{Store: store.Audit()}}

	notifier, err := notification.New(context.Background(), cfg.Alerts, secrets.Default(), logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing alerts: %w", err)
	}
	if notifier != nil {
		notifier.Start(context.Background())
		sc.addCleanup(notifier.Close)
		sinks = append(sinks, notifier)
		logger.Info("alert channels configured", slog.Int("channels", len(cfg.Alerts.Channels)))
	}
	sc.Audit = sinks

	return sc, nil
}

// initStore creates the storage backend named by config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlitestore.Config{Path: cfg.DatabasePath(), JournalMode: journalMode}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	pgCfg := pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}
	db, err := pgstore.Open(pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(db), nil
}

func credentialStore(cfg *config.Config, store storage.Store) credential.Store {
	if cfg.Security.Backend() == config.CredentialBackendFile {
		return credential.NewFileStore(cfg.CredentialPath())
	}
	return store.Credentials()
}

// Runtime is the assembled dispatcher plus what must be released with it.
type Runtime struct {
	Dispatcher *dispatcher.Dispatcher
	Registry   *capability.Registry
	bridge     *mcpbridge.Bridge
	stopSweep  func()
}

// Close stops the sweeper and disconnects MCP servers.
func (rt *Runtime) Close() {
	if rt.stopSweep != nil {
		rt.stopSweep()
	}
	if rt.bridge != nil {
		rt.bridge.Close()
	}
}

// buildRuntime assembles handlers, classifier and dispatcher, bootstraps the
// PIN from pin_ref and starts the expiry sweeper.
func buildRuntime(ctx context.Context, sc *SharedComponents) (*Runtime, error) {
	cfg, logger := sc.Config, sc.Logger
	rt := &Runtime{}

	if _, err := sc.Vault.Bootstrap(ctx, secrets.Default(), cfg.Security.PINRef); err != nil {
		return nil, fmt.Errorf("bootstrapping PIN: %w", err)
	}

	sbx := initSandbox(cfg, sc.Obs.MetricsOrNil(), logger)

	reg, dangerous, bridge, err := buildRegistry(ctx, cfg, sbx, sc.Obs, logger)
	if err != nil {
		return nil, err
	}
	rt.Registry, rt.bridge = reg, bridge
	if err := reg.CheckComplete(requiredKinds()); err != nil {
		rt.Close()
		return nil, fmt.Errorf("capability registry incomplete: %w", err)
	}

	cls, err := buildClassifier(cfg, dangerous)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Dispatcher = dispatcher.New(cls, reg, sc.Vault,
		dispatcher.WithSlot(pending.New(cfg.Security.PendingTTL())),
		dispatcher.WithGovernor(governor.New(cfg.Security.Attempts(),
			governor.WithThrottle(cfg.Security.ConfirmRatePerMinute))),
		dispatcher.WithAudit(sc.Audit),
		dispatcher.WithMetrics(sc.Obs.MetricsOrNil()),
		dispatcher.WithAnomaly(sc.Obs.AnomalyOrNil()),
		dispatcher.WithTracer(sc.Obs.TracerOrNil()),
		dispatcher.WithLogger(logger),
	)

	if cfg.Security.PendingTTL() > 0 {
		stop, err := pending.StartSweeper(ctx, cfg.Security.Sweep(), rt.Dispatcher, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.stopSweep = stop
	}

	logger.Info("dispatcher ready",
		slog.Int("handlers", len(reg.Kinds())),
		slog.Int("max_attempts", cfg.Security.Attempts()),
		slog.String("pending_ttl", cfg.Security.PendingTTL().String()),
	)
	return rt, nil
}

func initSandbox(cfg *config.Config, metrics *observability.MetricsCollector, logger *slog.Logger) sandbox.Sandbox {
	sh := cfg.Capabilities.Shell
	sbx := sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		DefaultTimeout: sh.Timeout(),
		DefaultLimits: sandbox.ResourceLimits{
			MaxCPUSeconds: sh.MaxCPUSeconds,
			MaxMemoryMB:   sh.MaxMemoryMB,
		},
		PassEnv: passEnv(sh.PassEnv),
	}, logger)
	if metrics != nil {
		sbx.WithObserver(metrics)
	}
	return sbx
}

// passEnv adds the desktop session variables launchers need.
func passEnv(extra []string) []string {
	base := []string{"DISPLAY", "WAYLAND_DISPLAY", "XDG_RUNTIME_DIR", "DBUS_SESSION_BUS_ADDRESS", "XAUTHORITY"}
	return append(base, extra...)
}

// buildRegistry registers every built-in handler plus bridged MCP tools and
// returns the kinds of tools from servers marked dangerous.
func buildRegistry(ctx context.Context, cfg *config.Config, sbx sandbox.Sandbox, obs *observability.Observability, logger *slog.Logger) (*capability.Registry, []action.Kind, *mcpbridge.Bridge, error) {
	caps := cfg.Capabilities

	templates := make(map[string]system.Template, len(caps.Templates))
	for k, t := range caps.Templates {
		templates[k] = system.Template{Argv: t.Argv, Message: t.Message, Detach: t.Detach}
	}
	sys, err := system.New(sbx, system.LinuxDefaults(), templates, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compiling system templates: %w", err)
	}

	var handlers []capability.Handler
	handlers = append(handlers, file.Handlers(file.Config{
		AllowedPaths:     caps.File.AllowedPaths,
		MaxFileSizeBytes: caps.File.MaxFileSizeBytes,
		SearchMaxResults: caps.SearchMaxResults,
		SearchRoot:       caps.File.SearchRoot,
	}, logger)...)
	handlers = append(handlers, shell.NewRunner(sbx, shell.Config{
		Timeout:   caps.Shell.Timeout(),
		Blocklist: caps.Shell.Blocklist,
		WorkDir:   caps.Shell.WorkDir,
	}, logger).Handlers()...)
	handlers = append(handlers, web.Handlers(sys, logger)...)
	handlers = append(handlers, sys.Handlers()...)

	bridge := mcpbridge.NewBridge(logger)
	var dangerous []action.Kind
	for _, srv := range cfg.MCP {
		tools, err := bridge.Connect(ctx, srv, version)
		if err != nil {
			logger.Warn("skipping MCP server",
				slog.String("server", srv.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, t := range tools {
			handlers = append(handlers, t)
			if srv.Dangerous {
				dangerous = append(dangerous, t.Kind())
			}
		}
	}

	reg := capability.NewRegistry()
	for _, h := range observability.InstrumentAll(handlers, obs.MetricsOrNil(), obs.TracerOrNil()) {
		reg.Register(h)
	}
	return reg, dangerous, bridge, nil
}

// requiredKinds is every statically known kind except none, which the
// registry always holds.
func requiredKinds() []action.Kind {
	kinds := []action.Kind{
		action.KindReadFile, action.KindWriteFile, action.KindSearchFiles,
		action.KindDeleteFile, action.KindDeleteFolder,
		action.KindRunCmd, action.KindRunCommand, action.KindRunScript,
		action.KindWebSearch, action.KindOpenURL,
	}
	kinds = append(kinds, system.Kinds...)
	return append(kinds, classifier.AlwaysDangerous...)
}

func buildClassifier(cfg *config.Config, dangerous []action.Kind) (*classifier.Classifier, error) {
	rules := make([]classifier.Rule, 0, len(cfg.Classifier.Rules))
	for _, r := range cfg.Classifier.Rules {
		rules = append(rules, classifier.Rule{Pattern: r.Pattern, Category: classifier.Category(r.Category)})
	}
	cels := make([]classifier.CELRule, 0, len(cfg.Classifier.CELRules))
	for _, r := range cfg.Classifier.CELRules {
		cels = append(cels, classifier.CELRule{Name: r.Name, Expression: r.Expression})
	}
	c, err := classifier.New(
		classifier.WithRules(rules...),
		classifier.WithCEL(cels...),
		classifier.WithDangerousKinds(dangerous...),
	)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}
	return c, nil
}
