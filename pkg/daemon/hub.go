package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/protocol"
)

var (
	// ErrNoPage means no registered page matches the destination.
	ErrNoPage = errors.New("no matching page")
	// ErrClosed means the destination connection is gone.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull means the destination is not draining its queue.
	ErrQueueFull = errors.New("send queue full")
)

// sendQueueSize is the per-connection outbound buffer.
const sendQueueSize = 64

// Conn is one framed transport connection.
type Conn interface {
	WriteMessage(msg *protocol.Message) error
	Close() error
}

// Handler processes one inbound message. from is nil for connections that
// never said HELLO. A non-nil return is sent back as the reply when msg
// carries a request id.
type Handler func(ctx context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message

// Hub tracks every connected context, whatever its transport, and routes
// messages to them by page id or window id.
type Hub struct {
	mu       sync.RWMutex
	sessions []*Session // Join order
	log      *zap.Logger
	now      func() time.Time

	// OnMessage is called for every inbound message the hub does not
	// handle itself (HELLO, PAGE_STATUS, PING).
	OnMessage Handler
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, now: time.Now}
}

// Session is one connection joined to the hub.
type Session struct {
	hub       *Hub
	conn      Conn
	transport string
	send      chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once

	// page is guarded by hub.mu.
	page *protocol.Page
}

// Join adds a connection and starts its writer.
func (h *Hub) Join(conn Conn, transport string) *Session {
	s := &Session{
		hub:       h,
		conn:      conn,
		transport: transport,
		send:      make(chan *protocol.Message, sendQueueSize),
		done:      make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions = append(h.sessions, s)
	h.mu.Unlock()
	go s.writeLoop()
	return s
}

func (s *Session) writeLoop() {
	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteMessage(msg); err != nil {
				s.hub.log.Debug("write failed, dropping connection", zap.Error(err))
				s.Leave()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Leave removes the session from the hub and closes its connection.
func (s *Session) Leave() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		h := s.hub
		h.mu.Lock()
		for i, other := range h.sessions {
			if other == s {
				h.sessions = append(h.sessions[:i], h.sessions[i+1:]...)
				break
			}
		}
		page := s.page
		h.mu.Unlock()
		if page != nil {
			h.log.Debug("page left", zap.String("page", page.ID), zap.String("url", page.URL))
		}
	})
}

// Done is closed once the session has left.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// PageID returns the registered page id, or "".
func (s *Session) PageID() string {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	if s.page == nil {
		return ""
	}
	return s.page.ID
}

// enqueue hands msg to the writer without blocking.
func (s *Session) enqueue(msg *protocol.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		s.hub.log.Warn("send queue full, dropping message", zap.String("type", string(msg.Type)))
		return ErrQueueFull
	}
}

// Handle processes one inbound message from this session.
func (s *Session) Handle(ctx context.Context, msg *protocol.Message) {
	h := s.hub
	from := h.touch(s)

	switch msg.Type {
	case protocol.MsgHello:
		page := h.register(s, msg.Page)
		reply := msg.Reply(protocol.MsgHello)
		reply.PageID = page.ID
		_ = s.enqueue(reply)
		return

	case protocol.MsgPageStatus:
		if msg.Page != nil {
			h.mu.Lock()
			if s.page != nil {
				s.page.Active = msg.Page.Active
			}
			h.mu.Unlock()
		}
		return

	case protocol.MsgPing:
		_ = s.enqueue(msg.Reply(protocol.MsgPong))
		return
	}

	if msg.IsReply() || h.OnMessage == nil {
		return
	}
	reply := h.OnMessage(ctx, from, msg)
	if reply == nil || msg.ID == "" {
		return
	}
	reply.ReplyTo = msg.ID
	_ = s.enqueue(reply)
}

// touch refreshes lastAccessed and returns a snapshot of the page.
func (h *Hub) touch(s *Session) *protocol.Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.page == nil {
		return nil
	}
	s.page.LastAccessed = h.now()
	p := *s.page
	return &p
}

func (h *Hub) register(s *Session, info *protocol.PageInfo) protocol.Page {
	if info == nil {
		info = &protocol.PageInfo{}
	}
	h.mu.Lock()
	page := &protocol.Page{
		ID:           uuid.NewString(),
		URL:          info.URL,
		WindowID:     info.WindowID,
		Active:       info.Active,
		LastAccessed: h.now(),
		Transport:    s.transport,
	}
	if s.page != nil {
		page.ID = s.page.ID
	}
	s.page = page
	snapshot := *page
	h.mu.Unlock()

	h.log.Info("page registered",
		zap.String("page", snapshot.ID),
		zap.String("url", snapshot.URL),
		zap.String("window", snapshot.WindowID),
		zap.String("transport", snapshot.Transport))
	return snapshot
}

// Pages returns a snapshot of every registered page in join order.
func (h *Hub) Pages() []protocol.Page {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pages := make([]protocol.Page, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.page != nil {
			pages = append(pages, *s.page)
		}
	}
	return pages
}

// SendToPage queues msg for the page with id.
func (h *Hub) SendToPage(_ context.Context, pageID string, msg *protocol.Message) error {
	h.mu.RLock()
	var target *Session
	for _, s := range h.sessions {
		if s.page != nil && s.page.ID == pageID {
			target = s
			break
		}
	}
	h.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("page %s: %w", pageID, ErrNoPage)
	}
	return target.enqueue(msg)
}

// SendToWindow queues msg for the first page registered in windowID.
func (h *Hub) SendToWindow(_ context.Context, windowID string, msg *protocol.Message) error {
	if windowID == "" {
		return fmt.Errorf("window %q: %w", windowID, ErrNoPage)
	}
	h.mu.RLock()
	var target *Session
	for _, s := range h.sessions {
		if s.page != nil && s.page.WindowID == windowID {
			target = s
			break
		}
	}
	h.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("window %s: %w", windowID, ErrNoPage)
	}
	return target.enqueue(msg)
}

// Count returns the number of joined sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close drops every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := append([]*Session(nil), h.sessions...)
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Leave()
	}
}
