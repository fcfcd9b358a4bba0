package window

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/perf"
	"github.com/b/lessonmate/pkg/protocol"
)

// DefaultSettleDelay is how long a freshly created window gets before its
// parked payload is pushed without a COMPANION_READY.
const DefaultSettleDelay = time.Second

// Policy tells Ensure what to do with the window it resolves.
type Policy struct {
	// CreateIfAbsent creates the window when none resolves. CreateState and
	// CreateFocused describe the new window.
	CreateIfAbsent bool
	CreateState    State
	CreateFocused  bool

	Minimize           bool // Force minimized
	RestoreIfMinimized bool // Normal, only if currently minimized
	Normal             bool // Force normal
	Focus              bool
	DrawAttention      bool

	// Forward delivers the payload to the window's page. A newly created
	// window always receives the payload through the pending handoff.
	Forward bool
}

// Options configures a Manager.
type Options struct {
	Command     string // What the companion window runs
	Name        string // Window title
	SettleDelay time.Duration
}

type pendingPayload struct {
	msg   *protocol.Message
	timer *time.Timer
}

// Manager is the companion window lifecycle manager. It is the only owner of
// the creation-in-flight flag and the queue of callers waiting on it.
type Manager struct {
	sys  System
	loc  *Locator
	msgr Messenger
	log  *zap.Logger
	opts Options

	mu       sync.Mutex
	creating bool
	queue    []func(*Window, error)
	pending  map[string]*pendingPayload
	ref      CompanionWindowRef
}

func NewManager(sys System, loc *Locator, msgr Messenger, opts Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Manager{
		sys:     sys,
		loc:     loc,
		msgr:    msgr,
		log:     log,
		opts:    opts,
		pending: make(map[string]*pendingPayload),
	}
}

// SetSettleDelay changes the fallback delivery delay for future creations.
func (m *Manager) SetSettleDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultSettleDelay
	}
	m.mu.Lock()
	m.opts.SettleDelay = d
	m.mu.Unlock()
}

// runExclusive runs op as the single in-flight creation. When another
// creation is already in flight, done is queued instead and op never runs.
// Queued continuations are called in enqueue order with op's result, after
// the caller's own done.
func (m *Manager) runExclusive(ctx context.Context, op func(context.Context) (*Window, error), done func(*Window, error)) {
	m.mu.Lock()
	if m.creating {
		m.queue = append(m.queue, done)
		depth := len(m.queue)
		m.mu.Unlock()
		m.log.Debug("creation in flight, queued", zap.Int("depth", depth))
		return
	}
	m.creating = true
	m.mu.Unlock()

	w, err := op(ctx)

	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	m.creating = false
	m.mu.Unlock()

	done(w, err)
	for _, fn := range queued {
		fn(w, err)
	}
}

type result struct {
	w   *Window
	err error
}

// exclusive is the blocking form of runExclusive.
func (m *Manager) exclusive(ctx context.Context, op func(context.Context) (*Window, error)) (*Window, error) {
	ch := make(chan result, 1)
	m.runExclusive(ctx, op, func(w *Window, err error) {
		ch <- result{w, err}
	})
	select {
	case r := <-ch:
		return r.w, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve returns the live companion window or nil. While a creation is in
// flight it waits for that creation instead of racing it.
func (m *Manager) Resolve(ctx context.Context) (*Window, error) {
	m.mu.Lock()
	busy := m.creating
	if busy {
		ch := make(chan result, 1)
		m.queue = append(m.queue, func(w *Window, err error) { ch <- result{w, err} })
		m.mu.Unlock()
		select {
		case r := <-ch:
			return r.w, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Unlock()

	w, err := m.loc.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	m.track(w)
	return w, nil
}

// Create opens a new companion window, serialized with every other
// creation. A payload, when given, is parked until the window's page
// reports ready.
func (m *Manager) Create(ctx context.Context, payload *protocol.Message) (*Window, error) {
	return m.exclusive(ctx, func(ctx context.Context) (*Window, error) {
		return m.create(ctx, payload, StateNormal, true)
	})
}

// Ensure resolves the window, creating it when the policy allows, then
// applies the policy's visual changes and forwards payload.
func (m *Manager) Ensure(ctx context.Context, payload *protocol.Message, p Policy) (*Window, error) {
	var (
		w       *Window
		created bool
		err     error
	)
	if p.CreateIfAbsent {
		// Resolve and create run as one exclusive step so two callers
		// cannot both observe "absent" and both create.
		w, err = m.exclusive(ctx, func(ctx context.Context) (*Window, error) {
			found, err := m.loc.Resolve(ctx)
			if err != nil || found != nil {
				return found, err
			}
			state := p.CreateState
			if state == "" {
				state = StateNormal
			}
			nw, err := m.create(ctx, payload, state, p.CreateFocused)
			created = err == nil
			return nw, err
		})
	} else {
		w, err = m.Resolve(ctx)
	}
	if err != nil {
		m.log.Warn("resolve companion window", zap.Error(err))
		return nil, err
	}
	if w == nil {
		return nil, nil
	}
	m.track(w)

	if created {
		return w, nil
	}
	m.apply(ctx, w, p)
	if p.Forward && payload != nil {
		_ = m.Deliver(ctx, w.ID, payload)
	}
	return w, nil
}

// create must only run inside runExclusive.
func (m *Manager) create(ctx context.Context, payload *protocol.Message, state State, focused bool) (*Window, error) {
	timer := perf.Start(m.log, "create companion window")
	w, err := m.sys.Create(ctx, CreateOptions{
		Command: m.opts.Command,
		Name:    m.opts.Name,
		Focused: focused,
		State:   state,
	})
	if err != nil {
		m.log.Warn("create companion window", zap.Error(err))
		return nil, err
	}
	timer.Stop(zap.String("id", w.ID))
	if err := m.loc.Remember(ctx, w.ID); err != nil {
		m.log.Warn("persist companion window id", zap.String("id", w.ID), zap.Error(err))
	}
	m.log.Info("created companion window", zap.String("id", w.ID), zap.String("state", string(state)))
	m.track(w)
	if payload != nil {
		m.park(w.ID, payload)
	}
	return w, nil
}

func (m *Manager) apply(ctx context.Context, w *Window, p Policy) {
	var opts UpdateOptions
	switch {
	case p.Minimize:
		s := StateMinimized
		opts.State = &s
	case p.Normal, p.RestoreIfMinimized && w.State == StateMinimized:
		s := StateNormal
		opts.State = &s
	}
	if p.Focus && !p.Minimize {
		t := true
		opts.Focused = &t
	}
	if p.DrawAttention && !p.Minimize {
		t := true
		opts.DrawAttention = &t
	}
	if opts.empty() {
		return
	}
	if err := m.sys.Update(ctx, w.ID, opts); err != nil {
		m.log.Debug("update companion window", zap.String("id", w.ID), zap.Error(err))
		return
	}
	if opts.State != nil {
		w.State = *opts.State
		m.log.Debug("companion window state", zap.String("id", w.ID), zap.String("state", string(w.State)))
	}
	m.track(w)
}

// Deliver sends msg to the page in windowID. While a payload is parked for
// the window, a newer UPDATE_STATE replaces it instead of being sent.
func (m *Manager) Deliver(ctx context.Context, windowID string, msg *protocol.Message) error {
	if msg.Type == protocol.MsgUpdateState {
		m.mu.Lock()
		if p, ok := m.pending[windowID]; ok {
			p.msg = msg
			m.mu.Unlock()
			m.log.Debug("replaced parked payload", zap.String("window", windowID))
			return nil
		}
		m.mu.Unlock()
	}
	if err := m.msgr.SendToWindow(ctx, windowID, msg); err != nil {
		m.log.Debug("deliver to companion dropped",
			zap.String("window", windowID), zap.String("type", string(msg.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Ready delivers the payload parked for windowID, if any.
func (m *Manager) Ready(ctx context.Context, windowID string) {
	m.flush(ctx, windowID, "ready")
}

func (m *Manager) park(windowID string, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.pending[windowID]; ok {
		old.timer.Stop()
	}
	p := &pendingPayload{msg: msg}
	p.timer = time.AfterFunc(m.opts.SettleDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.flush(ctx, windowID, "settle")
	})
	m.pending[windowID] = p
}

func (m *Manager) flush(ctx context.Context, windowID, reason string) {
	m.mu.Lock()
	p, ok := m.pending[windowID]
	if ok {
		delete(m.pending, windowID)
		p.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := m.msgr.SendToWindow(ctx, windowID, p.msg); err != nil {
		m.log.Debug("parked payload dropped", zap.String("window", windowID), zap.String("reason", reason), zap.Error(err))
		return
	}
	m.log.Debug("parked payload delivered", zap.String("window", windowID), zap.String("reason", reason))
}

// Close removes the companion window and clears the persisted id. A window
// that is already gone is not an error.
func (m *Manager) Close(ctx context.Context) error {
	w, err := m.Resolve(ctx)
	if err != nil {
		return err
	}
	if w != nil {
		if err := m.sys.Remove(ctx, w.ID); err != nil {
			m.log.Debug("remove companion window", zap.String("id", w.ID), zap.Error(err))
		} else {
			m.log.Info("closed companion window", zap.String("id", w.ID))
		}
		m.mu.Lock()
		if p, ok := m.pending[w.ID]; ok {
			p.timer.Stop()
			delete(m.pending, w.ID)
		}
		m.mu.Unlock()
	}
	if err := m.loc.Forget(ctx); err != nil {
		m.log.Warn("clear companion window id", zap.Error(err))
	}
	m.track(nil)
	return nil
}

// Ref returns the last known reference and whether a creation is in flight.
func (m *Manager) Ref() (CompanionWindowRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ref, m.creating
}

// Status resolves the window and reports it for STATUS replies.
func (m *Manager) Status(ctx context.Context) protocol.WindowStatus {
	w, err := m.Resolve(ctx)
	ref, busy := m.Ref()
	st := protocol.WindowStatus{CreationBusy: busy}
	if err != nil || w == nil {
		return st
	}
	st.ID = w.ID
	st.State = string(ref.LastKnownState)
	st.Exists = true
	return st
}

func (m *Manager) track(w *Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w == nil {
		m.ref = CompanionWindowRef{}
		return
	}
	m.ref = CompanionWindowRef{WindowID: w.ID, LastKnownState: w.State, ExistsHint: true}
}
