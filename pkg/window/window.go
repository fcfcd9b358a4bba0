// Package window owns the single companion window: resolving it to a live
// handle across daemon restarts, creating it at most once at a time, and
// applying focus/minimize policy.
package window

import (
	"context"
	"errors"
	"strings"

	"github.com/b/lessonmate/pkg/protocol"
)

// ErrNotFound is returned by System.Get when the id no longer names a window.
var ErrNotFound = errors.New("window not found")

// State is the visual state of a window.
type State string

const (
	StateNormal    State = "normal"
	StateMinimized State = "minimized"
)

// Page is one page (pane, tab) shown in a window.
type Page struct {
	URL string
}

// Window is a snapshot of a live window.
type Window struct {
	ID      string
	State   State
	Focused bool
	Pages   []Page
}

// HasPage reports whether a page runs address. The words of address must
// appear in order and back to back among the words of the page address. A
// word also matches a path ending in it, so "lessonmate-companion" matches
// "/usr/local/bin/lessonmate-companion".
func (w *Window) HasPage(address string) bool {
	want := strings.Fields(address)
	if len(want) == 0 {
		return false
	}
	for _, p := range w.Pages {
		if containsWords(strings.Fields(p.URL), want) {
			return true
		}
	}
	return false
}

func containsWords(have, want []string) bool {
	for i := 0; i+len(want) <= len(have); i++ {
		ok := true
		for j, word := range want {
			if !sameWord(have[i+j], word) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func sameWord(have, want string) bool {
	have = strings.Trim(have, `"'`)
	return have == want || strings.HasSuffix(have, "/"+want)
}

// CreateOptions describes a new window. Command is what the window runs;
// it becomes the address of the window's page.
type CreateOptions struct {
	Command string
	Name    string
	Focused bool
	State   State
}

// UpdateOptions changes the visual state of a window. Nil fields are left
// alone.
type UpdateOptions struct {
	State         *State
	Focused       *bool
	DrawAttention *bool
}

func (o UpdateOptions) empty() bool {
	return o.State == nil && o.Focused == nil && o.DrawAttention == nil
}

// System is the windowing system the manager drives.
type System interface {
	// Get returns the window or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Window, error)
	List(ctx context.Context) ([]*Window, error)
	Create(ctx context.Context, opts CreateOptions) (*Window, error)
	Update(ctx context.Context, id string, opts UpdateOptions) error
	Remove(ctx context.Context, id string) error
}

// Messenger delivers a message to the page running inside a window.
type Messenger interface {
	SendToWindow(ctx context.Context, windowID string, msg *protocol.Message) error
}

// CompanionWindowRef is the manager's view of the companion window.
type CompanionWindowRef struct {
	WindowID       string
	LastKnownState State
	ExistsHint     bool
}
