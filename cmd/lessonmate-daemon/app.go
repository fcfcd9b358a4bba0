package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/b/lessonmate/pkg/bridge"
	"github.com/b/lessonmate/pkg/config"
	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/router"
	"github.com/b/lessonmate/pkg/store"
	"github.com/b/lessonmate/pkg/tmux"
	"github.com/b/lessonmate/pkg/window"
)

var errSocketGone = errors.New("socket or pidfile taken over")

type appOptions struct {
	Profile    string
	ConfigPath string // Watched for hot reload when set

	// Empty means the profile defaults under /tmp.
	SocketPath string
	PidPath    string

	// System overrides the tmux backend.
	System     window.System
	Session    string
	TmuxSocket string

	HealthInterval time.Duration
}

// app is one running coordinator.
type app struct {
	opts appOptions
	log  *zap.Logger

	kv     store.KV
	hub    *daemon.Hub
	mgr    *window.Manager
	router *router.Router
	server *daemon.Server
	bridge *bridge.Server
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions, log *zap.Logger) (*app, error) {
	if opts.SocketPath == "" {
		opts.SocketPath = daemon.SocketPath(opts.Profile)
	}
	if opts.PidPath == "" {
		opts.PidPath = daemon.PidPath(opts.Profile)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 3 * time.Second
	}

	kv, err := store.Open(ctx, store.Options{
		Backend:    cfg.Store.Backend,
		SQLitePath: cfg.Store.SQLitePath,
		RedisURL:   cfg.Store.RedisURL,
		Profile:    opts.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	written, err := store.ApplyDefaults(ctx, kv)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("apply default settings: %w", err)
	}
	if len(written) > 0 {
		log.Info("default settings written", zap.Strings("keys", written))
	}

	sys := opts.System
	if sys == nil {
		sys = tmux.NewSystem(tmux.ExecRunner{Socket: opts.TmuxSocket}, opts.Session)
	}

	a := &app{opts: opts, log: log, kv: kv}
	a.hub = daemon.NewHub(log.Named("hub"))
	// The full command carries the profile, so daemons of other profiles
	// never adopt each other's companion.
	loc := window.NewLocator(sys, kv, cfg.Companion.Command, cfg.Store.CacheTTL, log.Named("window"))
	a.mgr = window.NewManager(sys, loc, a.hub, window.Options{
		Command:     cfg.Companion.Command,
		Name:        cfg.Companion.Name,
		SettleDelay: cfg.Companion.SettleDelay,
	}, log.Named("window"))
	a.router, err = router.New(a.hub, a.mgr, kv, router.Options{HostPattern: cfg.Site.HostPattern}, log.Named("router"))
	if err != nil {
		kv.Close()
		return nil, err
	}
	a.hub.OnMessage = a.router.Handle
	a.server = daemon.NewServerAt(opts.SocketPath, opts.PidPath, a.hub, log.Named("server"))

	if cfg.Bridge.Enabled {
		token, err := bridge.LoadOrGenerateToken(cfg.Bridge.TokenFile)
		if err != nil {
			kv.Close()
			return nil, fmt.Errorf("bridge token: %w", err)
		}
		a.bridge = bridge.NewServer(bridge.Config{Listen: cfg.Bridge.Listen, Token: token}, a.hub, log.Named("bridge"))
	}
	return a, nil
}

// run serves until ctx is done or the socket is taken over.
func (a *app) run(ctx context.Context) error {
	defer a.kv.Close()
	if err := a.server.Start(); err != nil {
		return err
	}
	defer a.server.Stop()
	a.log.Info("listening", zap.String("socket", a.server.SocketPath()), zap.Int("pid", os.Getpid()))

	if a.bridge != nil {
		if err := a.bridge.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = a.bridge.Stop(sctx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.opts.ConfigPath != "" {
		g.Go(func() error {
			defer recoverAndLog(a.log, "config-watch")
			return watchConfig(gctx, a.opts.ConfigPath, a.opts.Profile, a.reload, a.log.Named("config"))
		})
	}
	g.Go(func() error {
		defer recoverAndLog(a.log, "health-monitor")
		return a.monitor(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reload applies the settings that can change without a restart.
func (a *app) reload(cfg *config.Config) {
	if err := a.router.SetHostPattern(cfg.Site.HostPattern); err != nil {
		a.log.Warn("keeping previous host pattern", zap.Error(err))
	}
	a.mgr.SetSettleDelay(cfg.Companion.SettleDelay)
	a.log.Info("config reloaded", zap.Duration("settle_delay", cfg.Companion.SettleDelay))
}

// monitor stops the daemon when its socket is removed or another daemon
// rewrote the pidfile.
func (a *app) monitor(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.HealthInterval)
	defer ticker.Stop()
	myPid := os.Getpid()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(a.opts.SocketPath); os.IsNotExist(err) {
				a.log.Warn("socket removed, shutting down", zap.String("socket", a.opts.SocketPath))
				return errSocketGone
			}
			data, err := os.ReadFile(a.opts.PidPath)
			if err != nil {
				continue
			}
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid != myPid {
				a.log.Warn("pidfile replaced, shutting down", zap.Int("ours", myPid), zap.Int("new", pid))
				return errSocketGone
			}
		}
	}
}
