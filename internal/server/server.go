/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server bundles every subsystem behind one process: the
// connection-accept loop feeding internal/dispatcher through
// internal/connpool, and a small net/http admin surface (metrics,
// health) alongside it — the same "one Server struct, one New,
// DeferClose-ordered teardown" shape the teacher's own internal/server
// uses, generalized from an http.Server-only process to one that also
// owns a raw-socket listen set.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/icecastgo/internal/acl"
	"github.com/friendsincode/icecastgo/internal/adminmod"
	"github.com/friendsincode/icecastgo/internal/authstack"
	"github.com/friendsincode/icecastgo/internal/config"
	"github.com/friendsincode/icecastgo/internal/connpool"
	"github.com/friendsincode/icecastgo/internal/dispatcher"
	"github.com/friendsincode/icecastgo/internal/eventbus"
	"github.com/friendsincode/icecastgo/internal/fserve"
	"github.com/friendsincode/icecastgo/internal/geoip"
	"github.com/friendsincode/icecastgo/internal/listenset"
	"github.com/friendsincode/icecastgo/internal/moduletbl"
	"github.com/friendsincode/icecastgo/internal/mountstore"
	"github.com/friendsincode/icecastgo/internal/netio"
	"github.com/friendsincode/icecastgo/internal/source"
	"github.com/friendsincode/icecastgo/internal/sse"
	"github.com/friendsincode/icecastgo/internal/stats"
	"github.com/friendsincode/icecastgo/internal/yp"
)

// acceptPollInterval bounds how long one listenset.Set.Accept call blocks
// before it re-checks ctx, the same "poll with a short timeout" shape
// listenset and fserve already use for clean shutdown.
const acceptPollInterval = 500 * time.Millisecond

// Server owns every long-lived subsystem: the control-plane store, the
// in-memory runtime (registry, bus, ring, stats, file-serve pool), the
// listen set and connection pool feeding the dispatcher, and a small
// net/http admin surface running alongside it.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *mountstore.Store
	registry  *source.Registry
	bus       *eventbus.Bus
	ring      *sse.Ring
	stats     *stats.Tree
	filePool  *fserve.Pool
	modules   *moduletbl.Container
	ypAgent   yp.Agent
	geoLookup geoip.Lookup

	listeners  *listenset.Set
	connPool   *connpool.Pool
	dispatcher *dispatcher.Dispatcher

	adminServer *http.Server

	policiesMu sync.RWMutex
	policies   map[string]dispatcher.MountPolicy
	configsMu  sync.RWMutex
	configs    map[string]source.Config
	globalACL  *acl.ACL

	closers  []func() error
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies, mirroring the
// teacher's own New(cfg, logger) (*Server, error) shape.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		policies: make(map[string]dispatcher.MountPolicy),
		configs:  make(map[string]source.Config),
	}

	if err := s.initDependencies(); err != nil {
		return nil, err
	}
	s.configureDispatcher()
	s.configureAdminRoutes()
	s.startBackgroundWorkers()

	return s, nil
}

func (s *Server) initDependencies() error {
	store, err := mountstore.Open(s.cfg)
	if err != nil {
		return fmt.Errorf("server: open mountstore: %w", err)
	}
	s.store = store
	s.DeferClose(store.Close)

	ctx := context.Background()
	if s.cfg.SeedFilePath != "" {
		if err := store.LoadSeedFile(ctx, s.cfg.SeedFilePath); err != nil {
			return fmt.Errorf("server: load seed file: %w", err)
		}
		s.logger.Info().Str("path", s.cfg.SeedFilePath).Msg("mountstore seed file applied")
	}

	if err := s.reloadPolicies(ctx); err != nil {
		return fmt.Errorf("server: load mount snapshot: %w", err)
	}

	if globalEntries, err := store.ACLEntries(ctx, ""); err == nil {
		s.globalACL = mountstore.ToACL(globalEntries)
	} else {
		s.globalACL = acl.New()
	}

	s.bus = eventbus.NewBus(s.logger)
	s.ring = sse.NewRing(sse.DefaultCapacity)
	s.stats = stats.New(prometheus.DefaultRegisterer)
	s.filePool = fserve.New(200*time.Millisecond, s.logger)
	s.modules = moduletbl.NewContainer()
	s.registry = source.NewRegistry(s.cfg.SourceLimit)
	s.ypAgent = yp.NoopAgent{Logger: s.logger}
	s.geoLookup = geoip.NoopLookup{Logger: s.logger}

	s.modules.Register(adminmod.New(s.registry, s.stats, s.bus, s.logger))

	s.listeners = listenset.New(s.logger)
	if err := s.listeners.Reconfigure([]listenset.Config{{
		ID:          "main",
		BindAddress: s.cfg.HTTPBind,
		Port:        s.cfg.HTTPPort,
		Type:        listenset.TypeNormal,
	}}); err != nil {
		return fmt.Errorf("server: bind listen set: %w", err)
	}
	s.DeferClose(func() error { return s.listeners.Close() })

	return nil
}

// reloadPolicies re-reads every persisted mount from mountstore and
// rebuilds the resolver maps internal/dispatcher reads through
// MountPolicy/MountConfig — callable again later by an admin "reload"
// command without restarting the process.
func (s *Server) reloadPolicies(ctx context.Context) error {
	configs, acls, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	policies := make(map[string]dispatcher.MountPolicy, len(configs))
	for mount, mountACL := range acls {
		normalAuth := authstack.New(&mountCredAuthenticator{store: s.store, mount: mount, role: "source"})
		policies[mount] = dispatcher.MountPolicy{NormalAuth: normalAuth, ACL: mountACL}
	}

	s.policiesMu.Lock()
	s.policies = policies
	s.policiesMu.Unlock()

	s.configsMu.Lock()
	s.configs = configs
	s.configsMu.Unlock()

	return nil
}

func (s *Server) mountPolicy(mount string) (dispatcher.MountPolicy, bool) {
	s.policiesMu.RLock()
	defer s.policiesMu.RUnlock()
	p, ok := s.policies[mount]
	return p, ok
}

func (s *Server) mountConfig(mount string) (source.Config, bool) {
	s.configsMu.RLock()
	defer s.configsMu.RUnlock()
	c, ok := s.configs[mount]
	return c, ok
}

func (s *Server) configureDispatcher() {
	s.dispatcher = &dispatcher.Dispatcher{
		Modules:     s.modules,
		GlobalACL:   s.globalACL,
		GlobalAuth:  authstack.New(authstack.NewAnonymousAllow("listener")),
		MountPolicy: s.mountPolicy,
		MountConfig: s.mountConfig,

		Registry: s.registry,
		Resolver: s.registry.Lookup,
		Bus:      s.bus,
		YP:       s.ypAgent,

		FilePool:       s.filePool,
		StaticRoot:     "",
		SSEPath:        "/admin/events",
		EventRing:      s.ring,
		Stats:          s.stats,
		MaxHeaderBytes: int(s.cfg.BodySizeLimit),

		Logger: s.logger,
	}

	s.connPool = connpool.New(connpool.Options{
		Workers:        s.cfg.ConnPoolSize,
		HeaderTimeout:  s.cfg.HeaderTimeout,
		MaxHeaderBytes: int(s.cfg.BodySizeLimit),
	}, s.dispatcher.Handle, s.logger)
}

func (s *Server) configureAdminRoutes() {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	s.adminServer = &http.Server{
		Addr:         s.cfg.MetricsBind,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.bus.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.filePool.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.connPool.Start(ctx)
		s.connPool.Wait()
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.acceptLoop(ctx)
	}()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.listeners.Accept(ctx, acceptPollInterval)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, listenset.ErrTimeout) {
				continue
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		if ann, ok := s.geoLookup.Lookup(ctx, netio.PeerIP(conn)); ok {
			conn.GeoIP = ann
		}
		if !s.connPool.Submit(conn) {
			s.logger.Warn().Msg("connection queue full, dropping connection")
			conn.Close()
		}
	}
}

// Serve starts the admin HTTP listener and blocks until it stops.
// ListenAndServe's own http.ErrServerClosed is swallowed, matching the
// teacher's shutdown convention.
func (s *Server) Serve() error {
	s.logger.Info().
		Str("stream_addr", fmt.Sprintf("%s:%d", s.cfg.HTTPBind, s.cfg.HTTPPort)).
		Str("admin_addr", s.cfg.MetricsBind).
		Msg("icecastgo listening")
	if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the admin HTTP listener, the accept loop and worker
// pools, then releases every resource registered with DeferClose, in
// reverse order.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.adminServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook run in reverse order by Shutdown.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
