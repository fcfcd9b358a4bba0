// Package windowtest provides in-memory fakes of the windowing system and
// the page messenger.
package windowtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/b/lessonmate/pkg/protocol"
	"github.com/b/lessonmate/pkg/window"
)

// System is an in-memory window.System. Create can be held open with Block
// to line up concurrent callers behind an in-flight creation.
type System struct {
	mu      sync.Mutex
	windows map[string]*window.Window
	order   []string
	nextID  int
	creates int
	updates []Update
	gate    chan struct{}
	entered chan struct{}

	ListErr   error
	CreateErr error
}

// Update records one Update call.
type Update struct {
	ID   string
	Opts window.UpdateOptions
}

func New() *System {
	return &System{windows: make(map[string]*window.Window), entered: make(chan struct{}, 16)}
}

// Add registers an existing window, e.g. an orphan left by a previous run.
func (s *System) Add(w window.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.State == "" {
		w.State = window.StateNormal
	}
	s.windows[w.ID] = &w
	s.order = append(s.order, w.ID)
}

// Block makes Create wait until the returned release func is called.
func (s *System) Block() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Entered is signalled each time Create starts.
func (s *System) Entered() <-chan struct{} {
	return s.entered
}

func (s *System) Get(_ context.Context, id string) (*window.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, window.ErrNotFound)
	}
	return clone(w), nil
}

func (s *System) List(_ context.Context) ([]*window.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := make([]*window.Window, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(s.windows[id]))
	}
	return out, nil
}

func (s *System) Create(ctx context.Context, opts window.CreateOptions) (*window.Window, error) {
	s.mu.Lock()
	s.creates++
	gate := s.gate
	s.mu.Unlock()

	select {
	case s.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.nextID++
	state := opts.State
	if state == "" {
		state = window.StateNormal
	}
	w := &window.Window{
		ID:      fmt.Sprintf("@%d", s.nextID+100),
		State:   state,
		Focused: opts.Focused,
		Pages:   []window.Page{{URL: opts.Command}},
	}
	s.windows[w.ID] = w
	s.order = append(s.order, w.ID)
	return clone(w), nil
}

func (s *System) Update(_ context.Context, id string, opts window.UpdateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, window.ErrNotFound)
	}
	s.updates = append(s.updates, Update{ID: id, Opts: opts})
	if opts.State != nil {
		w.State = *opts.State
	}
	if opts.Focused != nil {
		w.Focused = *opts.Focused
	}
	return nil
}

func (s *System) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[id]; !ok {
		return fmt.Errorf("remove %s: %w", id, window.ErrNotFound)
	}
	delete(s.windows, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// CreateCalls returns how many times Create was called.
func (s *System) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Count returns the number of open windows.
func (s *System) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Window returns a copy of the window with id.
func (s *System) Window(id string) (window.Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return window.Window{}, false
	}
	return *clone(w), true
}

// Updates returns the recorded Update calls.
func (s *System) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

func clone(w *window.Window) *window.Window {
	c := *w
	c.Pages = append([]window.Page(nil), w.Pages...)
	return &c
}

// ErrNoPage is returned by Messenger when no page is attached to a window.
var ErrNoPage = errors.New("no page in window")

// Sent is one delivered message.
type Sent struct {
	WindowID string
	Msg      *protocol.Message
}

// Messenger records messages sent to windows. Windows listed by Attach
// accept messages; others fail with ErrNoPage.
type Messenger struct {
	mu       sync.Mutex
	attached map[string]bool
	sent     []Sent
	notify   chan Sent
}

func NewMessenger() *Messenger {
	return &Messenger{attached: make(map[string]bool), notify: make(chan Sent, 64)}
}

// Attach marks a window as having a registered page.
func (m *Messenger) Attach(windowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached[windowID] = true
}

func (m *Messenger) SendToWindow(_ context.Context, windowID string, msg *protocol.Message) error {
	m.mu.Lock()
	if !m.attached[windowID] {
		m.mu.Unlock()
		return ErrNoPage
	}
	s := Sent{WindowID: windowID, Msg: msg}
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	select {
	case m.notify <- s:
	default:
	}
	return nil
}

// Sent returns every delivered message.
func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Delivered is signalled on every successful delivery.
func (m *Messenger) Delivered() <-chan Sent {
	return m.notify
}
