package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nodalink/nodalink/common/environment"
	"github.com/nodalink/nodalink/common/version"
	"github.com/nodalink/nodalink/internal/nodalink/api"
	"github.com/nodalink/nodalink/internal/nodalink/config"
	"github.com/nodalink/nodalink/internal/nodalink/engine"
	"github.com/nodalink/nodalink/internal/nodalink/host"
	"github.com/nodalink/nodalink/internal/nodalink/misslog"
	"github.com/nodalink/nodalink/internal/nodalink/observability"
	"github.com/nodalink/nodalink/internal/nodalink/scenario"
	"github.com/nodalink/nodalink/internal/nodalink/state"
	"github.com/nodalink/nodalink/internal/nodalink/store"
	"github.com/nodalink/nodalink/internal/nodalink/watcher"
)

// appConfig is everything read from the environment at startup.
type appConfig struct {
	ScenarioFile string
	ConfigFile   string
	LogFile      string
	APIAddr      string
	CORSOrigins  []string
	HassURL      string
	HassToken    string
}

func loadAppConfig() appConfig {
	return appConfig{
		ScenarioFile: environment.StringOr("SCENARIO_FILE", "/config/nodalink/scenarios.json"),
		ConfigFile:   environment.StringOr("CONFIG_FILE", "/config/nodalink/config.json"),
		LogFile:      environment.StringOr("LOG_FILE", "/config/nodalink/logs/unmatched_scenarios.log"),
		APIAddr:      environment.StringOr("NODALINK_API_ADDR", ":8002"),
		CORSOrigins:  environment.StringSliceOr("CORS_ORIGINS", []string{"*"}),
		HassURL:      environment.StringOr("HASS_URL", ""),
		HassToken:    environment.StringOr("HASS_TOKEN", ""),
	}
}

// diskLoader re-reads both data files for the shared store's reload path.
// The reads are detached; the rule store only changes when the shared store
// commits the whole reload through ApplyScenarios.
type diskLoader struct {
	store      *store.Store
	configPath string
}

func (l *diskLoader) LoadScenarios() (map[string]scenario.Scenario, []string, error) {
	return l.store.ReadFile()
}

func (l *diskLoader) LoadConfig() (config.Config, error) {
	return config.Load(l.configPath)
}

func (l *diskLoader) ApplyScenarios(scenarios map[string]scenario.Scenario) {
	l.store.SetAll(scenarios)
}

func main() {
	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)
	if err := run(); err != nil {
		slog.Error("nodalink exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadAppConfig()
	slog.Info("nodalink starting",
		"version", version.Version,
		"scenario_file", cfg.ScenarioFile,
		"config_file", cfg.ConfigFile,
		"api_addr", cfg.APIAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Data layer. A corrupt config is fatal; a missing one yields defaults.
	ruleStore := store.New(cfg.ScenarioFile)
	warnings, err := ruleStore.Load()
	if err != nil {
		slog.Warn("scenario file unusable, starting empty", "error", err)
	}
	for _, w := range warnings {
		slog.Warn("scenario file finding", "detail", w)
	}
	sysConfig, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Shared coordination store.
	shared := state.New()
	shared.SetConfig(sysConfig)
	shared.SetScenarios(ruleStore.All(), "")
	shared.SetLoader(&diskLoader{store: ruleStore, configPath: cfg.ConfigFile})

	// Host bridge. Without HASS_URL the engine still runs for simulation and
	// the control plane, but cannot dispatch or read conditional entities.
	var bridge engine.Bridge
	if cfg.HassURL != "" {
		bridge = host.NewClient(cfg.HassURL, cfg.HassToken)
	} else {
		slog.Warn("HASS_URL not set, running without a host bridge")
		bridge = unavailableBridge{}
	}

	miss := misslog.NewWriter(cfg.LogFile)
	eng := engine.New(shared, bridge, miss)
	shared.SetSimulator(eng)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	if cfg.HassURL != "" {
		listener := host.NewListener(cfg.HassURL, cfg.HassToken, eng)
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Run(ctx)
		}()
	}

	// Control plane.
	apiServer := api.New(ruleStore, shared, cfg.ConfigFile, cfg.LogFile, cfg.CORSOrigins)

	// Auto-reload, gated on the live config setting. The server's write
	// counter keeps the watcher from reloading our own saves.
	fileWatcher := watcher.New(shared,
		func() bool { return shared.Config().SystemSettings.AutoReloadConfig },
		apiServer.Writes,
		cfg.ScenarioFile, cfg.ConfigFile)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fileWatcher.Run(ctx); err != nil {
			slog.Error("file watcher stopped", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: apiServer.Handler(),
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("control plane listening", "addr", cfg.APIAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	return nil
}

// unavailableBridge stands in when no host is configured.
type unavailableBridge struct{}

var errNoHost = errors.New("no automation host configured (set HASS_URL)")

func (unavailableBridge) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	return errNoHost
}

func (unavailableBridge) EntityState(ctx context.Context, entityID string) (string, error) {
	return "", errNoHost
}
