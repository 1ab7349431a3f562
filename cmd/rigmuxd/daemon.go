package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/w4sdr/rigmuxd/pkg/bridge"
	"github.com/w4sdr/rigmuxd/pkg/config"
	"github.com/w4sdr/rigmuxd/pkg/freqsync"
	"github.com/w4sdr/rigmuxd/pkg/logging"
	"github.com/w4sdr/rigmuxd/pkg/metrics"
	"github.com/w4sdr/rigmuxd/pkg/ptt"
	"github.com/w4sdr/rigmuxd/pkg/riglink"
	"github.com/w4sdr/rigmuxd/pkg/storage"
)

// Daemon owns the coordination core components and their lifecycle.
type Daemon struct {
	config     *config.Config
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startTime  time.Time

	rig        *riglink.RigLink
	arbiter    *ptt.Arbiter
	syncEngine *freqsync.Engine
	display    *freqsync.RigctlDisplay
	bridgeSrv  *bridge.Server
	store      *storage.EventStore
	stats      *metrics.Metrics
	watcher    *config.Watcher
	webServer  *http.Server
}

// NewDaemon wires the components together. configPath is kept so tunables
// can be reloaded when the file changes.
func NewDaemon(cfg *config.Config, configPath string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
		stats:      metrics.New(prometheus.DefaultRegisterer),
	}

	store, err := storage.NewEventStore(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	d.store = store

	// RigLink over the configured transport. Observer feeds metrics and
	// records link faults.
	var transport riglink.Transport
	if cfg.Rig.UseMock {
		logging.Warn("daemon", "using mock rig transport, no hardware will be controlled")
		transport = riglink.NewMockTransport()
	} else {
		transport = riglink.NewRigctldTransport(cfg.Rig.Address,
			time.Duration(cfg.Rig.TimeoutMs)*time.Millisecond)
	}
	d.rig = riglink.New(transport, d.observeRigCommand)

	d.arbiter = ptt.NewArbiter(d.rig,
		time.Duration(cfg.PTT.TimeoutSec)*time.Second, d.observePTTEvent)

	d.display = freqsync.NewRigctlDisplay(cfg.Display.Address,
		time.Duration(cfg.Display.TimeoutMs)*time.Millisecond)
	d.syncEngine = freqsync.New(d.rig, d.display, freqsync.Params{
		Interval:     time.Duration(cfg.Sync.IntervalMs) * time.Millisecond,
		DeadbandHz:   uint64(cfg.Sync.DeadbandHz),
		SettleWindow: time.Duration(cfg.Sync.SettleWindowMs) * time.Millisecond,
	}, d.observeSyncPush)

	d.bridgeSrv = bridge.NewServer(bridge.Config{
		BindAddress: cfg.Bridge.BindAddress,
		Port:        cfg.Bridge.Port,
		IdleTimeout: time.Duration(cfg.Bridge.IdleTimeoutSec) * time.Second,
	}, d.rig, d.arbiter, d.stats.AddBridgeConnections)

	if err := d.setupWebServer(); err != nil {
		store.Close()
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return d, nil
}

// Start brings the components up.
func (d *Daemon) Start() error {
	logging.Info("daemon", "starting rigmuxd daemon...")

	// A rig that is down at startup is not fatal: every component
	// degrades to LinkUnavailable and recovers when the endpoint returns.
	if err := d.rig.Connect(); err != nil {
		logging.Warnf("daemon", "rig endpoint not reachable yet: %v", err)
	}

	if err := d.bridgeSrv.Start(); err != nil {
		return err
	}

	if d.config.Sync.Enabled {
		d.syncEngine.Start()
	} else {
		logging.Info("daemon", "frequency sync disabled by configuration")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
		logging.Infof("daemon", "starting web server on %s", addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "web server error: %v", err)
		}
	}()

	watcher, err := config.NewWatcher(d.configPath, d.applyReload)
	if err != nil {
		logging.Warnf("daemon", "config watcher disabled: %v", err)
	} else {
		d.watcher = watcher
	}

	return nil
}

// Stop shuts everything down, making sure the transmitter is unkeyed.
func (d *Daemon) Stop() error {
	logging.Info("daemon", "stopping daemon...")

	d.cancel()

	if d.watcher != nil {
		d.watcher.Close()
	}

	d.bridgeSrv.Stop()

	if d.config.Sync.Enabled {
		d.syncEngine.Stop()
	}

	// Never leave the radio keyed on the way out.
	d.arbiter.ForceRelease()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Errorf("daemon", "web server shutdown error: %v", err)
		}
	}

	d.display.Close()
	d.rig.Close()

	if err := d.store.Close(); err != nil {
		logging.Errorf("daemon", "event store close error: %v", err)
	}

	d.wg.Wait()

	logging.Info("daemon", "daemon stopped")
	return nil
}

// applyReload picks up the runtime-tunable settings from a changed config
// file. Listener addresses require a restart.
func (d *Daemon) applyReload(cfg *config.Config) {
	logging.Info("daemon", "configuration file changed, applying tunables")

	d.syncEngine.ApplyParams(freqsync.Params{
		Interval:     time.Duration(cfg.Sync.IntervalMs) * time.Millisecond,
		DeadbandHz:   uint64(cfg.Sync.DeadbandHz),
		SettleWindow: time.Duration(cfg.Sync.SettleWindowMs) * time.Millisecond,
	})
	d.arbiter.SetTimeout(time.Duration(cfg.PTT.TimeoutSec) * time.Second)
}

// observeRigCommand feeds RigLink transactions into metrics and records
// link faults in the event history.
func (d *Daemon) observeRigCommand(op string, err error) {
	d.stats.RecordRigCommand(op, err)
	if err != nil {
		d.store.Record(storage.Event{
			Category: storage.CategoryLink,
			Type:     op,
			Detail:   err.Error(),
		})
	}
}

// observePTTEvent records grant transitions. Forced releases are
// safety-critical and always persisted.
func (d *Daemon) observePTTEvent(ev ptt.Event) {
	d.stats.RecordPTTEvent(ev.Type)
	d.store.Record(storage.Event{
		Timestamp: ev.At,
		Category:  storage.CategoryPTT,
		Type:      ev.Type,
		ClientID:  ev.HolderID,
		Detail:    fmt.Sprintf("duration=%.1fs", ev.Duration.Seconds()),
	})
}

// observeSyncPush records sync engine pushes.
func (d *Daemon) observeSyncPush(direction string, hz uint64) {
	d.stats.RecordSyncPush(direction, hz)
	d.store.Record(storage.Event{
		Category:    storage.CategorySync,
		Type:        direction,
		FrequencyHz: hz,
	})
}

// setupWebServer initializes the status API routes.
func (d *Daemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/radio", d.handleGetRadio)
		api.PUT("/radio/frequency", d.handleSetFrequency)
		api.GET("/events", d.handleGetEvents)
	}
	router.GET("/metrics", d.handleMetrics())
	router.GET("/ws", d.handleStatusSocket)

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
