package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/lessonmate/pkg/protocol"
)

// shortTempDir keeps unix socket paths under the 104-byte limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lm")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startServer(t *testing.T, hub *Hub) *Server {
	t.Helper()
	dir := shortTempDir(t)
	srv := NewServerAt(filepath.Join(dir, "d.sock"), filepath.Join(dir, "d.pid"), hub, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func TestSocketPaths(t *testing.T) {
	assert.Equal(t, "/tmp/lessonmate-default.sock", SocketPath(""))
	assert.Equal(t, "/tmp/lessonmate-work.pid", PidPath("work"))
}

func TestServer_ClaimsPidfile(t *testing.T) {
	hub := NewHub(nil)
	srv := startServer(t, hub)

	data, err := os.ReadFile(srv.pidPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestServer_RefusesLiveOwner(t *testing.T) {
	dir := shortTempDir(t)
	pidPath := filepath.Join(dir, "d.pid")
	// The parent process is alive for the duration of the test.
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getppid())), 0644))

	srv := NewServerAt(filepath.Join(dir, "d.sock"), pidPath, NewHub(nil), nil)
	err := srv.Start()
	assert.Error(t, err)
}

func TestServer_RemovesStalePidfile(t *testing.T) {
	dir := shortTempDir(t)
	pidPath := filepath.Join(dir, "d.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("999999999"), 0644))

	srv := NewServerAt(filepath.Join(dir, "d.sock"), pidPath, NewHub(nil), nil)
	require.NoError(t, srv.Start())
	srv.Stop()

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_ClientRoundTrip(t *testing.T) {
	hub := NewHub(nil)
	hub.OnMessage = func(_ context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message {
		if msg.Type == protocol.MsgStatus {
			return &protocol.Message{Type: protocol.MsgStatus, Pages: hub.Pages()}
		}
		return nil
	}
	srv := startServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	companion, err := Dial(ctx, srv.SocketPath())
	require.NoError(t, err)
	defer companion.Close()
	pageID, err := companion.Hello(ctx, protocol.PageInfo{URL: "lessonmate-companion", WindowID: "@2", Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, pageID)

	ctl, err := Dial(ctx, srv.SocketPath())
	require.NoError(t, err)
	defer ctl.Close()

	reply, err := ctl.Request(ctx, &protocol.Message{Type: protocol.MsgStatus})
	require.NoError(t, err)
	require.Len(t, reply.Pages, 1)
	assert.Equal(t, pageID, reply.Pages[0].ID)

	pong, err := ctl.Request(ctx, &protocol.Message{Type: protocol.MsgPing})
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgPong, pong.Type)

	// Push from the daemon side to the companion's window.
	require.NoError(t, hub.SendToWindow(ctx, "@2", &protocol.Message{Type: protocol.MsgQuizFeedbackError}))
	select {
	case msg := <-companion.Messages():
		assert.Equal(t, protocol.MsgQuizFeedbackError, msg.Type)
	case <-ctx.Done():
		t.Fatal("companion never received the push")
	}
}

func TestServer_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := startServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.SocketPath())
	require.NoError(t, err)
	_, err = c.Hello(ctx, protocol.PageInfo{URL: "x"})
	require.NoError(t, err)
	require.Len(t, hub.Pages(), 1)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return len(hub.Pages()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDial_GivesUpWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, filepath.Join(shortTempDir(t), "missing.sock"))
	assert.Error(t, err)
}

func TestServer_StopWaitsForHandlers(t *testing.T) {
	hub := NewHub(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	hub.OnMessage = func(_ context.Context, _ *protocol.Page, msg *protocol.Message) *protocol.Message {
		if msg.Type != protocol.MsgCommandNext {
			return nil
		}
		close(entered)
		<-release
		finished.Store(true)
		return nil
	}
	dir := shortTempDir(t)
	srv := NewServerAt(filepath.Join(dir, "d.sock"), filepath.Join(dir, "d.pid"), hub, nil)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.SocketPath())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Send(&protocol.Message{Type: protocol.MsgCommandNext}))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, finished.Load())
}
