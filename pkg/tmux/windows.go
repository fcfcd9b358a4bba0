// Package tmux drives tmux windows as the companion windowing system. A
// window's pages are its panes; a pane's start command is its address.
package tmux

import (
	"context"
	"fmt"
	"strings"

	"github.com/b/lessonmate/pkg/window"
)

// stateOption is the window user option holding the emulated visual state.
// tmux has no minimize, so a minimized window is one that is kept out of
// the foreground and tagged.
const stateOption = "@lessonmate_state"

var _ window.System = (*System)(nil)

const paneFormat = "#{session_id}\x1f#{window_id}\x1f#{window_active}\x1f#{" + stateOption + "}\x1f#{pane_start_command}\x1f#{pane_current_command}"

// System implements window.System on top of a tmux server.
type System struct {
	run Runner
	// Session is where new windows are created. Empty means the current
	// session of the tmux server.
	Session string
}

func NewSystem(run Runner, session string) *System {
	if run == nil {
		run = ExecRunner{}
	}
	return &System{run: run, Session: session}
}

type paneRow struct {
	sessionID string
	windowID  string
	active    bool
	state     string
	address   string
}

func parsePanes(out []byte) []paneRow {
	var rows []paneRow
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\x1f")
		if len(parts) < 6 {
			continue
		}
		addr := stripANSI(parts[4])
		if addr == "" {
			addr = stripANSI(parts[5])
		}
		rows = append(rows, paneRow{
			sessionID: parts[0],
			windowID:  parts[1],
			active:    parts[2] == "1",
			state:     parts[3],
			address:   addr,
		})
	}
	return rows
}

// group folds pane rows into windows, keeping first-seen order.
func group(rows []paneRow) []*window.Window {
	var out []*window.Window
	byID := make(map[string]*window.Window)
	for _, r := range rows {
		w, ok := byID[r.windowID]
		if !ok {
			w = &window.Window{
				ID:      r.windowID,
				State:   window.StateNormal,
				Focused: r.active,
			}
			if r.state == string(window.StateMinimized) {
				w.State = window.StateMinimized
			}
			byID[r.windowID] = w
			out = append(out, w)
		}
		w.Pages = append(w.Pages, window.Page{URL: r.address})
	}
	return out
}

func (s *System) panes(ctx context.Context, id string) ([]paneRow, error) {
	out, err := s.run.Run(ctx, "list-panes", "-t", id, "-F", paneFormat)
	if err != nil {
		if isMissingTarget(err) {
			return nil, fmt.Errorf("window %s: %w", id, window.ErrNotFound)
		}
		return nil, err
	}
	rows := parsePanes(out)
	if len(rows) == 0 || rows[0].windowID != id {
		return nil, fmt.Errorf("window %s: %w", id, window.ErrNotFound)
	}
	return rows, nil
}

func (s *System) Get(ctx context.Context, id string) (*window.Window, error) {
	if !strings.HasPrefix(id, "@") {
		return nil, fmt.Errorf("window %q: %w", id, window.ErrNotFound)
	}
	rows, err := s.panes(ctx, id)
	if err != nil {
		return nil, err
	}
	return group(rows)[0], nil
}

func (s *System) List(ctx context.Context) ([]*window.Window, error) {
	out, err := s.run.Run(ctx, "list-panes", "-a", "-F", paneFormat)
	if err != nil {
		return nil, fmt.Errorf("tmux list-panes failed: %w", err)
	}
	return group(parsePanes(out)), nil
}

func (s *System) Create(ctx context.Context, opts window.CreateOptions) (*window.Window, error) {
	args := []string{"new-window", "-P", "-F", "#{window_id}"}
	if !opts.Focused || opts.State == window.StateMinimized {
		args = append(args, "-d")
	}
	if s.Session != "" {
		args = append(args, "-t", s.Session+":")
	}
	if opts.Name != "" {
		args = append(args, "-n", opts.Name)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}
	out, err := s.run.Run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("tmux new-window failed: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if !strings.HasPrefix(id, "@") {
		return nil, fmt.Errorf("tmux new-window: unexpected id %q", id)
	}

	state := opts.State
	if state == "" {
		state = window.StateNormal
	}
	if _, err := s.run.Run(ctx, "set-option", "-w", "-t", id, stateOption, string(state)); err != nil {
		return nil, fmt.Errorf("tag window %s: %w", id, err)
	}
	return &window.Window{
		ID:      id,
		State:   state,
		Focused: opts.Focused && state != window.StateMinimized,
		Pages:   []window.Page{{URL: opts.Command}},
	}, nil
}

func (s *System) Update(ctx context.Context, id string, opts window.UpdateOptions) error {
	rows, err := s.panes(ctx, id)
	if err != nil {
		return err
	}
	cur := rows[0]

	if opts.State != nil {
		if _, err := s.run.Run(ctx, "set-option", "-w", "-t", id, stateOption, string(*opts.State)); err != nil {
			return fmt.Errorf("set state on %s: %w", id, err)
		}
		// Hand the foreground back to whatever the user had before.
		if *opts.State == window.StateMinimized && cur.active {
			_, _ = s.run.Run(ctx, "last-window", "-t", cur.sessionID)
		}
	}
	if opts.Focused != nil && *opts.Focused {
		if _, err := s.run.Run(ctx, "select-window", "-t", id); err != nil {
			return fmt.Errorf("select %s: %w", id, err)
		}
	}
	if opts.DrawAttention != nil && *opts.DrawAttention {
		_, _ = s.run.Run(ctx, "display-message", "-t", id, "lesson ready")
	}
	return nil
}

func (s *System) Remove(ctx context.Context, id string) error {
	if _, err := s.run.Run(ctx, "kill-window", "-t", id); err != nil {
		if isMissingTarget(err) {
			return fmt.Errorf("window %s: %w", id, window.ErrNotFound)
		}
		return fmt.Errorf("tmux kill-window failed: %w", err)
	}
	return nil
}

// CurrentWindowID returns the id of the window containing pane, or of the
// current window when pane is empty.
func CurrentWindowID(ctx context.Context, run Runner, pane string) (string, error) {
	if run == nil {
		run = ExecRunner{}
	}
	args := []string{"display-message", "-p"}
	if pane != "" {
		args = append(args, "-t", pane)
	}
	args = append(args, "#{window_id}")
	out, err := run.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
