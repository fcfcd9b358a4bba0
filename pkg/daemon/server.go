package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/protocol"
)

// maxFrameSize bounds one newline-delimited frame.
const maxFrameSize = 1024 * 1024

// Server accepts unix socket connections and joins them to a Hub
type Server struct {
	socketPath string
	pidPath    string
	listener   net.Listener
	hub        *Hub
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server on the profile's default socket and pidfile
func NewServer(profile string, hub *Hub, log *zap.Logger) *Server {
	return NewServerAt(SocketPath(profile), PidPath(profile), hub, log)
}

// NewServerAt creates a server on explicit paths
func NewServerAt(socketPath, pidPath string, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		pidPath:    pidPath,
		hub:        hub,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for client connections
func (s *Server) Start() error {
	// Check if another daemon is already running
	if err := s.checkAndClaimPid(); err != nil {
		return err
	}

	// Remove stale socket if exists (safe now that we own the pidfile)
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		os.Remove(s.pidPath) // Clean up pidfile on failure
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// checkAndClaimPid checks for existing daemon and claims pidfile
func (s *Server) checkAndClaimPid() error {
	if data, err := os.ReadFile(s.pidPath); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil && pid > 0 && pid != os.Getpid() {
			if process, err := os.FindProcess(pid); err == nil {
				// On Unix, FindProcess always succeeds, so we need to send signal 0
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon already running with pid %d", pid)
				}
			}
		}
		// Stale pidfile, remove it
		os.Remove(s.pidPath)
	}

	pid := os.Getpid()
	if err := os.WriteFile(s.pidPath, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}

	return nil
}

// Stop shuts down the server and waits for in-flight handlers to return.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.hub.Close()
	s.wg.Wait()
	os.Remove(s.socketPath)
	os.Remove(s.pidPath)
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// acceptLoop handles incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.log.Debug("accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleClient(conn)
	}
}

// handleClient reads frames from a client until it disconnects
func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()
	sess := s.hub.Join(&lineConn{conn: conn}, "socket")
	defer sess.Leave()
	// Stop cancels before closing the hub, so a session that joined after
	// the hub closed sees the cancellation here.
	if s.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in client handler",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			s.log.Debug("bad frame", zap.Error(err))
			continue
		}
		sess.Handle(s.ctx, msg)
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("client read ended", zap.Error(err))
	}
}

// lineConn writes newline-delimited JSON frames. Only the session writer
// goroutine calls WriteMessage.
type lineConn struct {
	conn net.Conn
}

func (c *lineConn) WriteMessage(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}
