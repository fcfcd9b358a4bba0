package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/logging"
	"github.com/b/lessonmate/pkg/protocol"
)

const stateDebounce = 100 * time.Millisecond

// stateFile is the document a scripted extractor keeps up to date.
type stateFile struct {
	Mode protocol.Mode         `json:"mode"`
	Data *protocol.LessonState `json:"data"`
}

type hostOptions struct {
	url       string
	window    string
	stateFile string
	stdin     bool
	debug     bool
}

func newHostCmd(g *globalFlags) *cobra.Command {
	opts := hostOptions{}
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Act as a course page for scripted extractors",
		Long: "host registers with the daemon under a course URL and stays connected.\n\n" +
			"The state file holds {\"mode\": ..., \"data\": ...} and is reported as UPDATE_STATE\n" +
			"whenever it changes and whenever the companion asks for it. JSON messages piped\n" +
			"on stdin are forwarded one per line. Every message the daemon sends to the page\n" +
			"is printed as a JSON line.",
		Example: `  lessonctl host --url https://cursos.alura.com.br/course/go/task/1 --state-file /tmp/lesson.json
  extractor | lessonctl host --url https://cursos.alura.com.br/course/go/task/1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.url == "" {
				return errors.New("--url is required")
			}
			opts.stdin = !isTerminal(cmd.InOrStdin())
			log, closeLog := logging.New(logging.Options{Debug: opts.debug, Console: cmd.ErrOrStderr()})
			defer closeLog()
			return runHost(cmd.Context(), g, opts, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "course page URL to register as")
	cmd.Flags().StringVar(&opts.window, "window", "", "window id to report")
	cmd.Flags().StringVar(&opts.stateFile, "state-file", "", "JSON lesson state to report on change")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log every frame to stderr")
	return cmd
}

// hostAgent holds the connection of one host session.
type hostAgent struct {
	client *daemon.Client
	opts   hostOptions
	log    *zap.Logger

	mu   sync.Mutex
	last []byte // last state file content reported
}

func runHost(ctx context.Context, g *globalFlags, opts hostOptions, in io.Reader, out io.Writer, log *zap.Logger) error {
	c, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	helloCtx, cancel := context.WithTimeout(ctx, g.timeout)
	pageID, err := c.Hello(helloCtx, protocol.PageInfo{URL: opts.url, WindowID: opts.window, Active: true})
	cancel()
	if err != nil {
		return fmt.Errorf("register page: %w", err)
	}
	log.Info("registered", zap.String("page", pageID), zap.String("url", opts.url))

	h := &hostAgent{client: c, opts: opts, log: log}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if opts.stateFile != "" {
		h.report(true)
		go func() {
			if err := h.watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("state file watch stopped", zap.Error(err))
			}
		}()
	}
	if opts.stdin {
		go h.forward(in)
	}

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.Messages():
			if !ok {
				return fmt.Errorf("daemon connection closed: %w", c.Err())
			}
			if err := enc.Encode(msg); err != nil {
				return err
			}
			if msg.Type == protocol.MsgCompanionReady && opts.stateFile != "" {
				h.report(true)
			}
		}
	}
}

// report sends the state file as UPDATE_STATE. Unless force is set an
// unchanged file is skipped.
func (h *hostAgent) report(force bool) {
	data, err := os.ReadFile(h.opts.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			h.log.Warn("read state file", zap.Error(err))
		}
		return
	}
	h.mu.Lock()
	unchanged := string(data) == string(h.last)
	h.mu.Unlock()
	if unchanged && !force {
		return
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		// Usually a write still in progress; the next event retries.
		h.log.Debug("state file not parseable yet", zap.Error(err))
		return
	}
	if st.Mode == "" {
		h.log.Warn("state file has no mode", zap.String("file", h.opts.stateFile))
		return
	}
	if err := h.client.Send(protocol.UpdateState(st.Mode, st.Data)); err != nil {
		h.log.Warn("report state", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.last = data
	h.mu.Unlock()
	h.log.Debug("state reported", zap.String("mode", string(st.Mode)))
}

// watch reports the state file after each burst of changes.
func (h *hostAgent) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("state watcher: %w", err)
	}
	defer w.Close()

	path := filepath.Clean(h.opts.stateFile)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(stateDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.log.Warn("state watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			h.report(false)
		}
	}
}

// forward sends each JSON line read from in to the daemon.
func (h *hostAgent) forward(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			h.log.Warn("skipping stdin line", zap.Error(err))
			continue
		}
		if err := h.client.Send(msg); err != nil {
			h.log.Warn("forward", zap.String("type", string(msg.Type)), zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		h.log.Warn("stdin", zap.Error(err))
	}
}
