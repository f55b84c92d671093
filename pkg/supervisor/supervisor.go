package supervisor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/meshworks/relay/pkg/bus"
	"github.com/meshworks/relay/pkg/config"
	"github.com/meshworks/relay/pkg/connector"
	"github.com/meshworks/relay/pkg/engine"
	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/metrics"
	"github.com/meshworks/relay/pkg/registry"
	"github.com/meshworks/relay/pkg/store"
	"github.com/meshworks/relay/pkg/types"
)

// Supervisor owns the hub's component graph and its lifecycle: boot
// order, connector reconnection, periodic health snapshots, alarm
// retention, config reload, and orderly shutdown.
type Supervisor struct {
	cfg    *config.Config
	logger zerolog.Logger

	Bus        *bus.Broker
	Registry   *registry.Registry
	Store      store.Store
	Dispatcher *connector.Dispatcher
	Engine     *engine.Engine

	cron      *cron.Cron
	watcher   *fsnotify.Watcher
	metricSrv *http.Server
	stopCh    chan struct{}
	startedAt time.Time
}

// New wires the component graph without starting anything
func New(cfg *config.Config) (*Supervisor, error) {
	st, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	broker := bus.NewBroker(bus.Options{
		HistoryCap: cfg.Bus.HistoryCap,
		MailboxCap: cfg.Bus.MailboxCap,
		Workers:    cfg.Bus.Workers,
	})
	reg := registry.NewRegistry(broker)
	dispatcher := connector.NewDispatcher()
	eng := engine.New(engine.Options{
		Bus:           broker,
		Store:         st,
		Dispatcher:    dispatcher,
		Instances:     reg,
		Cooldown:      cfg.Engine.Cooldown.Std(),
		ActionTimeout: cfg.Engine.ActionTimeout.Std(),
	})

	return &Supervisor{
		cfg:        cfg,
		logger:     log.WithComponent("supervisor"),
		Bus:        broker,
		Registry:   reg,
		Store:      st,
		Dispatcher: dispatcher,
		Engine:     eng,
		cron:       cron.New(),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start boots the hub: discover types, load instances, attach the
// engine, connect everything, then start the background loops.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	s.Registry.RegisterCatalogued()
	if s.cfg.TypesDir != "" {
		discovered, err := s.Registry.AutoDiscoverTypes(s.cfg.TypesDir)
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", s.cfg.TypesDir).Msg("type discovery failed")
		} else {
			s.logger.Info().Int("types", len(discovered)).Msg("connector types discovered")
		}
	}

	loaded, err := s.Registry.LoadInstances(s.cfg.ConnectorsFile)
	if err != nil {
		return err
	}
	s.logger.Info().Int("connectors", loaded).Msg("connector instances loaded")
	if s.cfg.AutoSave {
		s.Registry.EnableAutoSave(s.cfg.ConnectorsFile, s.cfg.AutoSaveDebounce.Std())
	}

	if err := s.Engine.Start(); err != nil {
		return err
	}

	results := s.Registry.ConnectAll(ctx)
	for id, err := range results {
		if err != nil {
			s.logger.Warn().Err(err).Str("connector_id", id).Msg("initial connect failed")
		}
	}

	go s.retryLoop()
	go s.healthLoop()
	s.startRetentionJob()
	s.startConfigWatch()
	s.startMetrics()

	s.logger.Info().Msg("hub started")
	return nil
}

// healthLoop publishes a health:check snapshot on the configured interval
func (s *Supervisor) healthLoop() {
	if s.cfg.Health.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Health.Interval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishHealth()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) publishHealth() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	connectors := make(map[string]any)
	byStatus := make(map[types.ConnectorStatus]int)
	for _, inst := range s.Registry.List() {
		st := inst.Status()
		connectors[inst.ID()] = map[string]any{
			"status": string(st.Status),
			"errors": st.Stats.Errors,
		}
		byStatus[st.Status]++
	}
	for _, status := range []types.ConnectorStatus{
		types.StatusDisconnected, types.StatusConnecting,
		types.StatusConnected, types.StatusError,
	} {
		metrics.ConnectorsTotal.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}

	err := s.Bus.Publish(&types.Event{
		Type:   types.EventHealthCheck,
		Source: types.SourceSystem,
		Data: map[string]any{
			"memoryBytes": mem.Alloc,
			"goroutines":  runtime.NumGoroutine(),
			"uptime":      time.Since(s.startedAt).String(),
			"connectors":  connectors,
			"subscribers": s.Bus.SubscriberCount(),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("health publish failed")
	}
}

// startRetentionJob schedules the alarm history sweep
func (s *Supervisor) startRetentionJob() {
	if s.cfg.Health.RetentionCron == "" || s.cfg.Health.RetentionAge <= 0 {
		return
	}
	_, err := s.cron.AddFunc(s.cfg.Health.RetentionCron, func() {
		cutoff := time.Now().Add(-s.cfg.Health.RetentionAge.Std())
		pruned, err := s.Store.PruneAlarmHistory(cutoff)
		if err != nil {
			s.logger.Error().Err(err).Msg("alarm retention sweep failed")
			return
		}
		if pruned > 0 {
			s.logger.Info().Int("pruned", pruned).Msg("alarm history pruned")
		}
	})
	if err != nil {
		s.logger.Error().Err(err).Str("cron", s.cfg.Health.RetentionCron).
			Msg("invalid retention schedule")
		return
	}
	s.cron.Start()
}

// startConfigWatch reloads the connectors file when it changes on disk.
// New instances are created; existing ones are left alone, so a hand
// edit never bounces healthy connectors.
func (s *Supervisor) startConfigWatch() {
	if s.cfg.ConnectorsFile == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn().Err(err).Msg("config watch unavailable")
		return
	}
	if err := watcher.Add(s.cfg.ConnectorsFile); err != nil {
		watcher.Close()
		s.logger.Warn().Err(err).Str("path", s.cfg.ConnectorsFile).Msg("config watch unavailable")
		return
	}
	s.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, s.reloadConnectors)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("config watch error")
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Supervisor) reloadConnectors() {
	created, err := s.Registry.LoadInstances(s.cfg.ConnectorsFile)
	if err != nil {
		s.logger.Error().Err(err).Msg("connector file reload failed")
		return
	}
	if created == 0 {
		return
	}
	s.logger.Info().Int("connectors", created).Msg("connector file reloaded")
	results := s.Registry.ConnectAll(context.Background())
	for id, err := range results {
		if err != nil {
			s.logger.Warn().Err(err).Str("connector_id", id).Msg("connect after reload failed")
		}
	}
}

func (s *Supervisor) startMetrics() {
	if s.cfg.MetricsListen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	s.metricSrv = &http.Server{Addr: s.cfg.MetricsListen, Handler: mux}
	go func() {
		if err := s.metricSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Shutdown stops background loops, drains the bus, disconnects every
// connector, and closes the store. Bounded by ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.cron.Stop()
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.metricSrv != nil {
		s.metricSrv.Shutdown(ctx)
	}

	if err := s.Bus.Drain(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("bus drain incomplete")
	}
	s.Engine.Stop()

	for id, err := range s.Registry.DisconnectAll(ctx) {
		if err != nil {
			s.logger.Warn().Err(err).Str("connector_id", id).Msg("disconnect failed")
		}
	}
	if err := s.Registry.FlushSave(); err != nil {
		s.logger.Warn().Err(err).Msg("final connector save failed")
	}

	s.Bus.Close()
	if err := s.Store.Close(); err != nil {
		return errdefs.Wrap(errdefs.KindStore, err, "close store")
	}
	s.logger.Info().Msg("hub stopped")
	return nil
}
