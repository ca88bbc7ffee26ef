/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_graphics/internal/api"
	"github.com/friendsincode/grimnir_graphics/internal/barrier"
	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/cache"
	"github.com/friendsincode/grimnir_graphics/internal/config"
	"github.com/friendsincode/grimnir_graphics/internal/db"
	"github.com/friendsincode/grimnir_graphics/internal/eventbus"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/frame"
	"github.com/friendsincode/grimnir_graphics/internal/leadership"
	"github.com/friendsincode/grimnir_graphics/internal/logbuffer"
	"github.com/friendsincode/grimnir_graphics/internal/playback"
	"github.com/friendsincode/grimnir_graphics/internal/playbackserver"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
	"github.com/friendsincode/grimnir_graphics/internal/store"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// Server bundles the frame loop, the playback stack and the control API.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	nodeID    string
	db        *gorm.DB
	bus       *events.Bus
	transport eventbus.Transport
	barrier   barrier.GroupManager
	loop      *frame.Loop
	manager   *playback.Manager
	watcher   *playback.AssetWatcher
	registry  *broadcast.Registry
	playback  *playbackserver.Server
	rundown   *rundown.Rundown
	election  *leadership.Election
	logBuffer *logbuffer.Buffer
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-graphics-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		nodeID:    nodeID,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket streams manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if err := os.MkdirAll(s.cfg.ContentRoot, 0o755); err != nil {
		return fmt.Errorf("create content root %s: %w", s.cfg.ContentRoot, err)
	}

	transport, err := NewTransport(s.cfg, s.nodeID, s.logger)
	if err != nil {
		return err
	}
	s.transport = transport
	s.DeferClose(transport.Close)

	if err := s.initBarrier(); err != nil {
		return err
	}

	s.loop = frame.New(float64(s.cfg.FrameRate), s.logger)

	resolver := playback.NewFileResolver(s.cfg.ContentRoot)
	loader := playback.NewSimulatedLoader(resolver, s.cfg.SimulatedLoadFrames)
	s.manager = playback.NewManager(loader, resolver, s.bus, s.logger)
	if s.cfg.WatchAssets {
		s.watcher = playback.NewAssetWatcher(resolver, s.manager, s.logger)
	}

	s.registry = broadcast.NewRegistry(s.logger, s.bus)
	profile := broadcast.DefaultProfile(s.cfg.PreviewChannel)
	if s.cfg.ChannelsFile != "" {
		if profile, err = broadcast.LoadProfile(s.cfg.ChannelsFile); err != nil {
			return err
		}
	}
	if err := s.registry.Apply(profile); err != nil {
		return fmt.Errorf("apply channel profile: %w", err)
	}
	s.logger.Info().Strs("channels", s.registry.ChannelNames()).Msg("broadcast channels registered")

	s.playback = playbackserver.New(playbackserver.Config{
		Name:                  s.cfg.ServerName,
		ContentPath:           s.cfg.ContentRoot,
		PendingCommandTimeout: s.cfg.PendingCommandTimeout,
		RandomDelayMax:        s.cfg.CommandRandomDelayMax,
	}, playbackserver.Deps{
		Transport: s.transport,
		Manager:   s.manager,
		Registry:  s.registry,
		Barrier:   s.barrier,
		Bus:       s.bus,
		Scheduler: s.loop,
		Logger:    s.logger,
	})

	s.rundown = rundown.New(rundown.Context{
		Manager:   s.manager,
		Barrier:   s.barrier,
		Channels:  s.registry,
		Preloader: playback.NewPreloader(resolver, s.logger),
		Bus:       s.bus,
		Logger:    s.logger,
	}, s.cfg.RundownSettings())

	var gate leadership.Gate = leadership.AlwaysLeader{}
	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		electionCfg.InstanceID = s.nodeID
		election, err := leadership.NewElection(electionCfg, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.election = election
		gate = election
	}

	var rundowns api.RundownStore = store.New(s.db)
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c := cache.New(cacheCfg, rundowns, s.logger)
		s.DeferClose(c.Close)
		rundowns = c
	}

	s.api = api.New(api.Deps{
		Runner:     s.loop,
		Rundown:    s.rundown,
		Registry:   s.registry,
		Store:      rundowns,
		Bus:        s.bus,
		Leader:     gate,
		LogBuffer:  s.logBuffer,
		AuthSecret: []byte(s.cfg.AuthSecret),
		Logger:     s.logger,
	})
	return nil
}

// NewTransport opens the message bus selected by the configuration.
func NewTransport(cfg *config.Config, nodeID string, logger zerolog.Logger) (eventbus.Transport, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "grimnir-graphics-" + cfg.ServerName
		return eventbus.NewNATSTransport(natsCfg, nodeID, logger)
	case config.TransportRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		return eventbus.NewRedisTransport(redisCfg, nodeID, logger)
	default:
		return eventbus.NewLocal(nodeID, logger), nil
	}
}

// initBarrier picks the clustered barrier when more than one node must
// arrive at each synchronized event.
func (s *Server) initBarrier() error {
	if s.cfg.ClusterSize <= 1 {
		s.barrier = barrier.NewLocal(s.logger)
		return nil
	}
	barrierCfg := barrier.DefaultRedisConfig()
	barrierCfg.Addr = s.cfg.RedisAddr
	barrierCfg.Password = s.cfg.RedisPassword
	barrierCfg.DB = s.cfg.RedisDB
	barrierCfg.NodeID = s.nodeID
	barrierCfg.Participants = s.cfg.ClusterSize
	rb, err := barrier.NewRedis(barrierCfg, s.logger)
	if err != nil {
		return fmt.Errorf("create cluster barrier: %w", err)
	}
	s.barrier = rb
	s.DeferClose(rb.Close)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	// Let the loop put the instance cache into shutdown mode while it still runs.
	if s.bgCancel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.loop.Do(ctx, s.manager.StartShuttingDown)
		cancel()
	}
	s.stopBackgroundWorkers()
	if s.playback != nil {
		s.playback.Close()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	// Order matters: inbound messages are applied before the barrier fires,
	// then server commands, the instance cache and finally the rundown.
	s.loop.AddTicker("inbox", s.playback.Inbox())
	s.loop.AddTicker("barrier", s.barrier)
	if s.watcher != nil {
		s.loop.AddTicker("asset_watcher", s.watcher)
	}
	s.loop.AddTicker("playback_server", s.playback)
	s.loop.AddTicker("playback_manager", s.manager)
	s.loop.AddTicker("rundown", s.rundown)

	if err := s.playback.Start(); err != nil {
		return fmt.Errorf("start playback server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("asset watcher disabled")
			s.watcher = nil
		} else {
			s.DeferClose(s.watcher.Stop)
		}
	}

	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			return fmt.Errorf("start leader election: %w", err)
		}
		s.DeferClose(s.election.Stop)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("frame loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
	return nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok","frame":` + fmt.Sprint(s.loop.Frame())
		if s.election != nil {
			if s.election.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
