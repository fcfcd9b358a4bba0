package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/config"
	"github.com/b/lessonmate/pkg/logging"
)

var (
	profile      = flag.String("profile", "default", "Profile name (socket, pidfile and store)")
	configPath   = flag.String("config", config.DefaultConfigPath(), "Config file")
	envFile      = flag.String("env-file", ".env", "Optional dotenv file")
	debugMode    = flag.Bool("debug", false, "Enable debug logging")
	companionBin = flag.String("companion-bin", "", "Companion binary (overrides companion.command)")
	session      = flag.String("session", "", "tmux session for the companion window")
	tmuxSocket   = flag.String("tmux-socket", "", "tmux server socket name (-L)")
)

func recoverAndLog(log *zap.Logger, where string) {
	if r := recover(); r != nil {
		log.Error("crash",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())))
	}
}

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "lessonmate-daemon: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath, *profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lessonmate-daemon: %v\n", err)
		os.Exit(1)
	}
	if *companionBin != "" {
		cfg.Companion.Command = fmt.Sprintf("%s -profile %s", *companionBin, *profile)
	}

	log, closeLog := logging.New(logging.Options{File: cfg.Log.File, Debug: *debugMode || cfg.Log.Debug})
	defer closeLog()
	log = log.With(zap.String("profile", *profile))
	defer recoverAndLog(log, "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		Profile:    *profile,
		ConfigPath: *configPath,
		Session:    *session,
		TmuxSocket: *tmuxSocket,
	}, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
	log.Info("daemon starting",
		zap.String("store", cfg.Store.Backend),
		zap.String("host_pattern", cfg.Site.HostPattern),
		zap.Bool("bridge", cfg.Bridge.Enabled))

	if err := a.run(ctx); err != nil {
		log.Error("daemon stopped", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
	log.Info("daemon stopped")
}
