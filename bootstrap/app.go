package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/storage"
)

// shutdownTimeout bounds the graceful stop of the API server.
const shutdownTimeout = 5 * time.Second

// App represents the running application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store   *storage.SQLiteStore
	EventCh chan *core.Event

	Engine   *detect.RuleEngine
	Detector *detect.Detector

	SyslogListener  *ingest.SyslogListener
	AuthListener    *ingest.AuthLogListener
	WindowsListener *ingest.WindowsListener

	Hub       *api.Hub
	APIServer *api.API

	retentionCancel context.CancelFunc
}

// NewApp creates the application and initializes all components. Nothing is
// listening yet; call Start.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, level := InitLogger()
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus SIEM starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	ApplyLogLevel(level, cfg, sugar)

	retentionCtx, cancel := context.WithCancel(ctx)
	app.retentionCancel = cancel

	store, err := InitSQLite(retentionCtx, cfg, sugar)
	if err != nil {
		cancel()
		return nil, err
	}
	app.Store = store

	if _, err := LoadRules(ctx, cfg, store, sugar); err != nil {
		cancel()
		store.Close()
		return nil, err
	}

	app.EventCh = make(chan *core.Event, cfg.Engine.ChannelBuffer)
	app.Hub = api.NewHub(ctx, sugar)

	app.Detector, app.Engine = InitDetector(cfg, store, app.EventCh, app.Hub, sugar)
	app.APIServer = api.NewAPI(store, app.Engine, app.Hub, sugar)

	if err := app.initListeners(); err != nil {
		cancel()
		store.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) initListeners() error {
	cfg := a.Config

	if l := cfg.Listeners.Syslog; l.Enabled {
		a.SyslogListener = ingest.NewSyslogListener(l.Host, l.Port, l.RateLimit, a.EventCh, a.Sugar)
	}
	if l := cfg.Listeners.Auth; l.Enabled {
		a.AuthListener = ingest.NewAuthLogListener(l.Host, l.Port, l.RateLimit, a.EventCh, a.Sugar)
	}
	if l := cfg.Listeners.Windows; l.Enabled {
		listener, err := ingest.NewWindowsListener(l.Host, l.Port, l.RateLimit, a.EventCh, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to create windows listener: %w", err)
		}
		a.WindowsListener = listener
	}
	return nil
}

// Start launches the hub, detection pipeline, listeners and API server.
func (a *App) Start() error {
	go a.Hub.Start()
	a.Detector.Start()

	if a.SyslogListener != nil {
		if err := a.SyslogListener.Start(); err != nil {
			return fmt.Errorf("failed to start syslog listener: %w", err)
		}
	}
	if a.AuthListener != nil {
		if err := a.AuthListener.Start(); err != nil {
			return fmt.Errorf("failed to start auth listener: %w", err)
		}
	}
	if a.WindowsListener != nil {
		if err := a.WindowsListener.Start(); err != nil {
			return fmt.Errorf("failed to start windows listener: %w", err)
		}
	}

	go func() {
		if err := a.APIServer.Start(a.Config.APIAddr()); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server failed", "error", err)
		}
	}()

	a.Sugar.Info("All services started")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops components in dependency order: producers first, then the
// pipeline, then the outward surfaces, then storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Phase 1 - stop listeners so no new events enter the channel
	if a.SyslogListener != nil {
		a.SyslogListener.Stop()
	}
	if a.AuthListener != nil {
		a.AuthListener.Stop()
	}
	if a.WindowsListener != nil {
		a.WindowsListener.Stop()
	}

	// Phase 2 - stop the detector; it finishes the event in hand, buffered
	// events are dropped
	a.Detector.Stop()

	// Phase 3 - stop the API server and WebSocket hub
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Errorw("Failed to stop API server", "error", err)
	}
	a.Hub.Stop()

	// Phase 4 - stop retention and close the database
	a.retentionCancel()
	if err := a.Store.Close(); err != nil {
		a.Sugar.Errorw("Failed to close storage", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
