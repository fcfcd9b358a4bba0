package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/config"
	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/logging"
	"github.com/b/lessonmate/pkg/paths"
	"github.com/b/lessonmate/pkg/protocol"
	"github.com/b/lessonmate/pkg/tmux"
)

var (
	profile  = flag.String("profile", "default", "Daemon profile to connect to")
	windowID = flag.String("window", "", "Window this page lives in (default: from $TMUX_PANE)")
	narrator = flag.String("narrator", os.Getenv("LESSONMATE_NARRATOR"), "Speech command that reads stdin aloud, e.g. \"espeak\"")
	debug    = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// The terminal belongs to the UI; logs only go to the file.
	log, closeLog := logging.New(logging.Options{
		File:    paths.StatePath(fmt.Sprintf("companion-%s.log", *profile)),
		Debug:   *debug,
		Console: io.Discard,
	})
	defer closeLog()

	if *windowID == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		id, err := tmux.CurrentWindowID(ctx, tmux.ExecRunner{}, os.Getenv("TMUX_PANE"))
		cancel()
		if err != nil {
			log.Warn("could not resolve own window", zap.Error(err))
		}
		*windowID = id
	}

	// Keep colors when tmux reports a limited terminal.
	if termenv.ColorProfile() == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.ANSI256)
	}

	page := protocol.PageInfo{URL: config.DefaultCompanionAddress, WindowID: *windowID, Active: true}
	model := newModel(nil, newNarrator(*narrator, log.Named("narrator")), log)
	model.connect = connectCmd(daemon.SocketPath(*profile), page)

	p := tea.NewProgram(model, tea.WithAltScreen())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		p.Send(tea.Quit())
	}()

	log.Info("companion starting", zap.String("window", *windowID), zap.String("profile", *profile))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}
