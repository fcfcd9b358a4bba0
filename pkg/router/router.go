// Package router is the coordinator's dispatch table. Every handler is
// total: failures degrade to a logged no-op and never reach the sender.
package router

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/perf"
	"github.com/b/lessonmate/pkg/protocol"
	"github.com/b/lessonmate/pkg/store"
	"github.com/b/lessonmate/pkg/window"
)

// PageDirectory lists registered pages and delivers to one of them.
type PageDirectory interface {
	Pages() []protocol.Page
	SendToPage(ctx context.Context, pageID string, msg *protocol.Message) error
}

// Companion is the window lifecycle the router drives.
type Companion interface {
	Ensure(ctx context.Context, payload *protocol.Message, p window.Policy) (*window.Window, error)
	Resolve(ctx context.Context) (*window.Window, error)
	Deliver(ctx context.Context, windowID string, msg *protocol.Message) error
	Ready(ctx context.Context, windowID string)
	Close(ctx context.Context) error
	Status(ctx context.Context) protocol.WindowStatus
}

type handlerFunc func(ctx context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message

// Options configures a Router.
type Options struct {
	HostPattern string
}

// Router dispatches messages by type.
type Router struct {
	pages PageDirectory
	win   Companion
	kv    store.KV
	log   *zap.Logger
	host  *hostMatcher

	// last is the most recent UPDATE_STATE, used to answer COMPANION_READY.
	lastMu sync.Mutex
	last   *protocol.Message

	handlers map[protocol.MessageType]handlerFunc
}

func New(pages PageDirectory, win Companion, kv store.KV, opts Options, log *zap.Logger) (*Router, error) {
	if log == nil {
		log = zap.NewNop()
	}
	host, err := newHostMatcher(opts.HostPattern)
	if err != nil {
		return nil, err
	}
	r := &Router{
		pages: pages,
		win:   win,
		kv:    kv,
		log:   log,
		host:  host,
	}
	r.handlers = map[protocol.MessageType]handlerFunc{
		protocol.MsgUpdateState:        r.handleUpdateState,
		protocol.MsgTransitionStart:    r.handleTransitionStart,
		protocol.MsgPrepareReadingMode: r.handlePrepareReadingMode,
		protocol.MsgCompanionReady:     r.handleCompanionReady,

		protocol.MsgCommandPlayPause:  r.forwardToHost,
		protocol.MsgCommandNext:       r.forwardToHost,
		protocol.MsgCommandPrev:       r.forwardToHost,
		protocol.MsgCommandCycleSpeed: r.forwardToHost,
		protocol.MsgSelectOption:      r.forwardToHost,
		protocol.MsgFinishReading:     r.forwardToHost,
		protocol.MsgUpdateSpeed:       r.handleUpdateSpeed,

		protocol.MsgVideoStateChanged: r.forwardToCompanion,
		protocol.MsgSpeedUpdated:      r.forwardToCompanion,
		protocol.MsgQuizFeedbackError: r.forwardToCompanion,
		protocol.MsgQuizRevealCorrect: r.forwardToCompanion,

		protocol.MsgShortcut:       r.handleShortcut,
		protocol.MsgGetSettings:    r.handleGetSettings,
		protocol.MsgSetSetting:     r.handleSetSetting,
		protocol.MsgCloseCompanion: r.handleCloseCompanion,
		protocol.MsgStatus:         r.handleStatus,
	}
	return r, nil
}

// SetHostPattern swaps the host page pattern. The old pattern stays in
// effect when the new one does not compile.
func (r *Router) SetHostPattern(pattern string) error {
	if err := r.host.set(pattern); err != nil {
		return err
	}
	r.log.Info("host pattern updated", zap.String("pattern", r.host.String()))
	return nil
}

// Handle dispatches one message. It matches daemon.Handler.
func (r *Router) Handle(ctx context.Context, from *protocol.Page, msg *protocol.Message) (reply *protocol.Message) {
	h, ok := r.handlers[msg.Type]
	if !ok {
		r.log.Debug("ignoring unknown message type", zap.String("type", string(msg.Type)))
		return nil
	}
	defer perf.Start(r.log, string(msg.Type)).Stop()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in handler",
				zap.String("type", string(msg.Type)),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			reply = nil
		}
	}()
	return h(ctx, from, msg)
}

func (r *Router) settings(ctx context.Context) protocol.Settings {
	s, err := store.LoadSettings(ctx, r.kv)
	if err != nil {
		r.log.Warn("load settings, using defaults", zap.Error(err))
	}
	return s
}

// Page policies per lesson mode.
var (
	playerMinimized = window.Policy{
		CreateIfAbsent: true,
		CreateState:    window.StateMinimized,
		Minimize:       true,
	}
	playerVisible = window.Policy{
		CreateIfAbsent:     true,
		CreateState:        window.StateNormal,
		CreateFocused:      true,
		RestoreIfMinimized: true,
		Forward:            true,
	}
	contentFocused = window.Policy{
		CreateIfAbsent: true,
		CreateState:    window.StateNormal,
		CreateFocused:  true,
		Normal:         true,
		Focus:          true,
		DrawAttention:  true,
		Forward:        true,
	}
)

func (r *Router) handleUpdateState(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	fwd := msg.Clone()
	switch msg.Mode {
	case protocol.ModePlayer:
		r.remember(fwd)
		if r.settings(ctx).AutoMinimizeEnabled {
			_, _ = r.win.Ensure(ctx, nil, playerMinimized)
			return nil
		}
		_, _ = r.win.Ensure(ctx, fwd, playerVisible)

	case protocol.ModeContent:
		r.remember(fwd)
		if msg.Data != nil {
			if err := store.SetJSON(ctx, r.kv, store.NSLesson, store.KeyCurrentReading, msg.Data); err != nil {
				r.log.Warn("persist current reading", zap.Error(err))
			}
		}
		_, _ = r.win.Ensure(ctx, fwd, contentFocused)

	default:
		r.log.Debug("update without a known mode", zap.String("mode", string(msg.Mode)))
	}
	return nil
}

func (r *Router) handleTransitionStart(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	if msg.PredictedMode == protocol.ModePlayer && r.settings(ctx).AutoMinimizeEnabled {
		// Minimize before the next lesson loads so the window never flashes.
		_, _ = r.win.Ensure(ctx, nil, window.Policy{Minimize: true})
		return nil
	}
	return r.forwardToCompanion(ctx, nil, msg)
}

func (r *Router) handlePrepareReadingMode(ctx context.Context, _ *protocol.Page, _ *protocol.Message) *protocol.Message {
	_, _ = r.win.Ensure(ctx, nil, window.Policy{Normal: true, Focus: true})
	return nil
}

func (r *Router) handleCompanionReady(ctx context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message {
	if from != nil && from.WindowID != "" {
		r.win.Ready(ctx, from.WindowID)
	}
	// Ask the host page to report its current state again.
	r.toHost(ctx, &protocol.Message{Type: protocol.MsgCompanionReady})
	return r.currentState(ctx, msg)
}

// currentState builds the COMPANION_READY answer: the last update seen,
// else the persisted reading, else NONE.
func (r *Router) currentState(ctx context.Context, req *protocol.Message) *protocol.Message {
	reply := req.Reply(protocol.MsgCompanionReady)
	r.lastMu.Lock()
	last := r.last
	r.lastMu.Unlock()
	if last != nil {
		reply.Mode = last.Mode
		reply.Data = last.Data
		return reply
	}
	var reading protocol.LessonState
	ok, err := store.GetJSON(ctx, r.kv, store.NSLesson, store.KeyCurrentReading, &reading)
	if err != nil {
		r.log.Debug("read persisted reading", zap.Error(err))
	}
	if ok {
		reply.Mode = protocol.ModeContent
		reply.Data = &reading
		return reply
	}
	reply.Mode = protocol.ModeNone
	return reply
}

func (r *Router) remember(msg *protocol.Message) {
	r.lastMu.Lock()
	r.last = msg
	r.lastMu.Unlock()
}

func (r *Router) handleUpdateSpeed(ctx context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message {
	if err := store.SetPlaybackSpeed(ctx, r.kv, msg.Speed); err != nil {
		r.log.Warn("persist playback speed", zap.Float64("speed", msg.Speed), zap.Error(err))
	}
	return r.forwardToHost(ctx, from, msg)
}

func (r *Router) forwardToHost(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	r.toHost(ctx, msg.Clone())
	return nil
}

func (r *Router) forwardToCompanion(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	r.toCompanion(ctx, msg.Clone())
	return nil
}

// toHost delivers msg to the selected host page. No host page means the
// message is dropped.
func (r *Router) toHost(ctx context.Context, msg *protocol.Message) bool {
	page, ok := SelectHost(r.pages.Pages(), r.host.match)
	if !ok {
		r.log.Debug("no host page, dropping", zap.String("type", string(msg.Type)))
		return false
	}
	if err := r.pages.SendToPage(ctx, page.ID, msg); err != nil {
		r.log.Debug("deliver to host dropped", zap.String("type", string(msg.Type)), zap.Error(err))
		return false
	}
	return true
}

// toCompanion delivers msg to the companion window if it exists. It never
// creates the window.
func (r *Router) toCompanion(ctx context.Context, msg *protocol.Message) bool {
	w, err := r.win.Resolve(ctx)
	if err != nil || w == nil {
		r.log.Debug("no companion window, dropping", zap.String("type", string(msg.Type)))
		return false
	}
	return r.win.Deliver(ctx, w.ID, msg) == nil
}

func (r *Router) handleShortcut(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	if !r.settings(ctx).ShortcutsEnabled {
		r.log.Debug("shortcuts disabled", zap.String("command", msg.Command))
		return nil
	}
	t, ok := protocol.ShortcutCommand(msg.Command)
	if !ok {
		r.log.Debug("unknown shortcut", zap.String("command", msg.Command))
		return nil
	}
	r.toHost(ctx, &protocol.Message{Type: t})
	// Play/pause and speed change shared state the companion shows.
	if t == protocol.MsgCommandPlayPause || t == protocol.MsgCommandCycleSpeed {
		r.toCompanion(ctx, &protocol.Message{Type: t})
	}
	return nil
}

func (r *Router) handleGetSettings(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	s := r.settings(ctx)
	reply := msg.Reply(protocol.MsgGetSettings)
	reply.Settings = &s
	return reply
}

func (r *Router) handleSetSetting(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	reply := msg.Reply(protocol.MsgSetSetting)
	if err := store.SetSetting(ctx, r.kv, msg.Key, msg.Value); err != nil {
		r.log.Info("rejected setting", zap.String("key", msg.Key), zap.Error(err))
		reply.Error = err.Error()
		return reply
	}
	r.log.Info("setting changed", zap.String("key", msg.Key), zap.ByteString("value", msg.Value))
	s := r.settings(ctx)
	reply.Settings = &s
	return reply
}

func (r *Router) handleCloseCompanion(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	if err := r.win.Close(ctx); err != nil {
		r.log.Warn("close companion window", zap.Error(err))
	}
	return msg.Reply(protocol.MsgCloseCompanion)
}

func (r *Router) handleStatus(ctx context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
	st := r.win.Status(ctx)
	reply := msg.Reply(protocol.MsgStatus)
	reply.Window = &st
	reply.Pages = r.pages.Pages()
	return reply
}
