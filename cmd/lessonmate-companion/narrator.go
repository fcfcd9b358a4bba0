package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Narrator reads lesson text aloud.
type Narrator interface {
	// Speak starts reading text, replacing any narration in progress. The
	// returned channel is closed when reading ends or is stopped.
	Speak(text string, speed float64) <-chan struct{}
	Stop()
}

// noopNarrator is used when no speech command is configured.
type noopNarrator struct{}

func (noopNarrator) Speak(string, float64) <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (noopNarrator) Stop() {}

// execNarrator pipes text to a speech command such as "espeak" or "say".
// The playback speed is exported as LESSONMATE_SPEED.
type execNarrator struct {
	argv []string
	log  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newNarrator(command string, log *zap.Logger) Narrator {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return noopNarrator{}
	}
	return &execNarrator{argv: argv, log: log}
}

func (n *execNarrator) Speak(text string, speed float64) <-chan struct{} {
	n.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	done := make(chan struct{})
	cmd := exec.CommandContext(ctx, n.argv[0], n.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Env = append(os.Environ(), fmt.Sprintf("LESSONMATE_SPEED=%.2f", speed))
	go func() {
		defer close(done)
		defer cancel()
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			n.log.Warn("narration failed", zap.String("command", n.argv[0]), zap.Error(err))
		}
	}()
	return done
}

func (n *execNarrator) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
