// Package daemon wires the record store, administrator guard, destination
// registry, switch coordinator, and API server into a single long-running
// process guarded by a pid file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teamdock/teamdock/internal/admin"
	"github.com/teamdock/teamdock/internal/config"
	"github.com/teamdock/teamdock/internal/eventbus"
	"github.com/teamdock/teamdock/internal/kvstore"
	"github.com/teamdock/teamdock/internal/procutil"
	"github.com/teamdock/teamdock/internal/registry"
	daemonruntime "github.com/teamdock/teamdock/internal/runtime"
	"github.com/teamdock/teamdock/internal/server"
	"github.com/teamdock/teamdock/internal/switchboard"
)

// serviceOpTimeout bounds graceful shutdown of hosted services.
const serviceOpTimeout = 5 * time.Second

// Options groups the inputs required to construct a Daemon.
type Options struct {
	Settings config.Settings
	Paths    config.InstancePaths
}

// Daemon is the teamdockd process: one record store, one registry, one
// coordinator, one API server.
type Daemon struct {
	settings    config.Settings
	paths       config.InstancePaths
	store       kvstore.Store
	bus         *eventbus.Bus
	registry    *registry.Registry
	guard       *admin.Guard
	coordinator *switchboard.Coordinator
	apiServer   *server.APIServer
	serviceHost *daemonruntime.ServiceHost
	lifecycle   *daemonruntime.Lifecycle

	listenAddr string
	addrMu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	errMu  sync.Mutex
	runErr error
}

// New builds the daemon: opens the record store, loads the guard and the
// registry (seeding defaults on first run), restores the active destination,
// and registers the API service. Nothing listens until Start.
func New(opts Options) (*Daemon, error) {
	ctx := context.Background()

	store, err := openStore(opts.Settings, opts.Paths)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	guard := admin.NewGuard(store)
	if err := guard.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: load administrator credential: %w", err)
	}

	reg := registry.New(store, guard)
	if err := reg.Load(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: load destination registry: %w", err)
	}

	coordinator := switchboard.New(store, reg, bus)
	if err := coordinator.Start(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: restore active destination: %w", err)
	}

	apiServer := server.NewAPIServer(server.Options{
		Registry:     reg,
		Guard:        guard,
		Coordinator:  coordinator,
		Bus:          bus,
		StoreBackend: opts.Settings.Store.Backend,
	})

	d := &Daemon{
		settings:    opts.Settings,
		paths:       opts.Paths,
		store:       store,
		bus:         bus,
		registry:    reg,
		guard:       guard,
		coordinator: coordinator,
		apiServer:   apiServer,
		serviceHost: daemonruntime.NewServiceHost(),
		lifecycle:   daemonruntime.NewLifecycle(),
	}

	if err := d.serviceHost.Register("api", func(ctx context.Context) (daemonruntime.Service, error) {
		return &apiService{daemon: d}, nil
	}); err != nil {
		store.Close()
		return nil, err
	}

	return d, nil
}

func openStore(settings config.Settings, paths config.InstancePaths) (kvstore.Store, error) {
	switch settings.Store.Backend {
	case config.StoreBackendSQLite:
		store, err := kvstore.OpenSQLite(settings.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("daemon: open sqlite store: %w", err)
		}
		return store, nil
	case config.StoreBackendFile:
		store, err := kvstore.NewFileStore(settings.Store.Dir)
		if err != nil {
			return nil, fmt.Errorf("daemon: open file store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("daemon: unknown store backend %q", settings.Store.Backend)
	}
}

// Start runs the daemon until Shutdown is called or a service fails.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.paths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.paths.Lock)

	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err := d.serviceHost.Start(d.ctx); err != nil {
		d.cancel()
		return fmt.Errorf("daemon: start services: %w", err)
	}
	d.watchHostErrors()

	log.Printf("[Daemon] listening on %s (store backend %s)", d.ListenAddr(), d.settings.Store.Backend)

	<-d.lifecycle.Done()

	d.cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "daemon: service shutdown error: %v\n", err)
		d.setRunError(err)
	}
	cancel()

	d.bus.Shutdown()

	if err := d.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: store close error: %v\n", err)
	}

	return d.getRunError()
}

// Shutdown signals the daemon to stop.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// ListenAddr returns the bound listen address once the API service started.
func (d *Daemon) ListenAddr() string {
	d.addrMu.Lock()
	defer d.addrMu.Unlock()
	return d.listenAddr
}

// APIServer returns the API server.
func (d *Daemon) APIServer() *server.APIServer {
	return d.apiServer
}

func (d *Daemon) setListenAddr(addr string) {
	d.addrMu.Lock()
	defer d.addrMu.Unlock()
	d.listenAddr = addr
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for err := range d.serviceHost.Errors() {
			if err == nil {
				continue
			}
			d.setRunError(err)
			fmt.Fprintf(os.Stderr, "%v\n", err)
			d.lifecycle.Shutdown()
		}
	}()
}

func (d *Daemon) setRunError(err error) {
	if err == nil {
		return
	}
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// IsRunning checks whether a daemon is already running for this installation.
// A stale lock file left by a dead process is removed.
func IsRunning() bool {
	paths := config.GetInstancePaths()

	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		os.Remove(paths.Lock)
		return false
	}

	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.Lock)
		return false
	}

	return true
}

// apiService adapts the API server to the runtime service contract. Serve
// runs on its own goroutine; errors surface through the errs channel so the
// host can tear the daemon down.
type apiService struct {
	daemon   *Daemon
	listener net.Listener
	errs     chan error
}

func (s *apiService) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.daemon.settings.Listen)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", s.daemon.settings.Listen, err)
	}
	s.listener = listener
	s.errs = make(chan error, 1)
	s.daemon.setListenAddr(listener.Addr().String())

	go func() {
		defer close(s.errs)
		if err := s.daemon.apiServer.Serve(listener); err != nil {
			s.errs <- err
		}
	}()
	return nil
}

func (s *apiService) Shutdown(ctx context.Context) error {
	return s.daemon.apiServer.Shutdown(ctx)
}

func (s *apiService) Errors() <-chan error {
	return s.errs
}
