package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/scriptmonkey/internal/browser"
	"github.com/GriffinCanCode/scriptmonkey/internal/fetch"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/sandbox"
	"go.uber.org/zap"
)

// Components is the wired core shared by the server and the CLI.
type Components struct {
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Prefs    *prefs.Store
	Registry *registry.Config
	Client   *fetch.Client
	Sandbox  *sandbox.Sandbox
	Browser  *browser.Provider
}

// Build opens storage, loads the registry and wires the sandbox and browser
// provider from cfg.
func Build(cfg *config.Config, logger *logging.Logger) (*Components, error) {
	metrics := monitoring.NewMetrics()

	store, err := openPrefs(cfg.Storage, logger.Component("prefs"))
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Options{
		Root:    cfg.Storage.ScriptRoot(),
		Format:  registry.Format(cfg.Storage.RegistryFormat),
		Prefs:   store,
		Logger:  logger.Component("registry"),
		Metrics: metrics,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := reg.Load(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	client := fetch.New(fetch.Config{
		Timeout:   cfg.HTTP.Timeout.Std(),
		Retries:   cfg.HTTP.Retries,
		UserAgent: cfg.HTTP.UserAgent,
		RateLimit: cfg.HTTP.RateLimit,
	}, logger.Component("fetch"))

	sb := sandbox.New(sandbox.Config{
		Timeout:          cfg.Sandbox.Timeout.Std(),
		MaxCallStackSize: cfg.Sandbox.MaxCallStack,
	}, sandbox.Deps{
		Prefs:     store,
		Requester: client,
		Logger:    logger.Component("sandbox"),
		Metrics:   metrics,
	})

	tracer := tracing.New(logger.Component("trace"))
	provider := browser.New(browser.Deps{
		Registry: reg,
		Sandbox:  sb,
		Client:   client,
		Logger:   logger.Logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Temp:     cfg.Storage.TempRoot(),
	})

	return &Components{
		Metrics:  metrics,
		Tracer:   tracer,
		Prefs:    store,
		Registry: reg,
		Client:   client,
		Sandbox:  sb,
		Browser:  provider,
	}, nil
}

// Close releases the provider, flushes spans and closes the preference
// store.
func (c *Components) Close() error {
	err := c.Browser.Close()
	c.Tracer.Close()
	if perr := c.Prefs.Close(); err == nil {
		err = perr
	}
	return err
}

func openPrefs(cfg config.StorageConfig, logger *zap.Logger) (*prefs.Store, error) {
	if cfg.PrefsBackend == "memory" {
		return prefs.NewStore(prefs.NewMemoryBackend(), logger), nil
	}
	path := cfg.PrefsFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create prefs directory: %w", err)
	}
	backend, err := prefs.NewSQLiteBackend(path)
	if err != nil {
		return nil, fmt.Errorf("open prefs database: %w", err)
	}
	return prefs.NewStore(backend, logger), nil
}
