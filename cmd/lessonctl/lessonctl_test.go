package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/protocol"
	"github.com/b/lessonmate/pkg/router"
	"github.com/b/lessonmate/pkg/store"
	"github.com/b/lessonmate/pkg/window"
	"github.com/b/lessonmate/pkg/window/windowtest"
)

const (
	companionAddr = "lessonmate-companion"
	courseURL     = "https://cursos.alura.com.br/course/go/task/7"
)

type received struct {
	from *protocol.Page
	msg  *protocol.Message
}

// testDaemon is a daemon stack over a fake window system.
type testDaemon struct {
	sock string
	hub  *daemon.Hub
	sys  *windowtest.System
	kv   store.KV

	mu   sync.Mutex
	seen []received
}

func startDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir, err := os.MkdirTemp("", "lmc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	d := &testDaemon{
		sock: filepath.Join(dir, "d.sock"),
		hub:  daemon.NewHub(nil),
		sys:  windowtest.New(),
		kv:   store.NewMemory(),
	}
	_, err = store.ApplyDefaults(context.Background(), d.kv)
	require.NoError(t, err)

	loc := window.NewLocator(d.sys, d.kv, companionAddr, time.Minute, nil)
	mgr := window.NewManager(d.sys, loc, d.hub, window.Options{
		Command:     companionAddr + " -profile test",
		Name:        "lesson",
		SettleDelay: time.Hour,
	}, nil)
	r, err := router.New(d.hub, mgr, d.kv, router.Options{}, nil)
	require.NoError(t, err)
	d.hub.OnMessage = func(ctx context.Context, from *protocol.Page, msg *protocol.Message) *protocol.Message {
		d.mu.Lock()
		d.seen = append(d.seen, received{from: from, msg: msg})
		d.mu.Unlock()
		return r.Handle(ctx, from, msg)
	}

	srv := daemon.NewServerAt(d.sock, filepath.Join(dir, "d.pid"), d.hub, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return d
}

func (d *testDaemon) matching(ok func(received) bool) []received {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []received
	for _, r := range d.seen {
		if ok(r) {
			out = append(out, r)
		}
	}
	return out
}

// waitFor waits until the daemon has routed n messages matching ok and
// returns the last of them.
func (d *testDaemon) waitFor(t *testing.T, n int, ok func(received) bool) received {
	t.Helper()
	require.Eventually(t, func() bool { return len(d.matching(ok)) >= n }, 3*time.Second, 10*time.Millisecond)
	got := d.matching(ok)
	return got[n-1]
}

func ofType(mt protocol.MessageType) func(received) bool {
	return func(r received) bool { return r.msg.Type == mt }
}

func run(t *testing.T, d *testDaemon, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--socket", d.sock, "--timeout", "2s"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestDaemonNotReachable(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"--socket", filepath.Join(t.TempDir(), "none.sock"), "--timeout", "200ms", "status"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}

func TestShortcutCmd(t *testing.T) {
	d := startDaemon(t)

	_, err := run(t, d, "shortcut", "rewind")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown shortcut")

	_, err = run(t, d, "shortcut", "next-lesson")
	require.NoError(t, err)
	got := d.waitFor(t, 1, ofType(protocol.MsgShortcut))
	assert.Equal(t, protocol.ShortcutNextLesson, got.msg.Command)
}

func TestSettingsCmd(t *testing.T) {
	d := startDaemon(t)

	out, err := run(t, d, "settings", "get")
	require.NoError(t, err)
	var s protocol.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, protocol.DefaultSettings(), s)

	out, err = run(t, d, "settings", "get", protocol.KeyAutoReadEnabled)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = run(t, d, "settings", "set", protocol.KeyAutoReadEnabled, "false")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.False(t, s.AutoReadEnabled)

	saved, err := store.LoadSettings(context.Background(), d.kv)
	require.NoError(t, err)
	assert.False(t, saved.AutoReadEnabled)
}

func TestSettingsCmd_Rejects(t *testing.T) {
	d := startDaemon(t)

	_, err := run(t, d, "settings", "set", "volume", "3")
	assert.ErrorContains(t, err, "unknown setting")

	_, err = run(t, d, "settings", "set", protocol.KeyShortcutsEnabled, "maybe")
	assert.ErrorContains(t, err, "not a JSON literal")

	// The daemon validates the value type.
	_, err = run(t, d, "settings", "set", protocol.KeyShortcutsEnabled, `"yes"`)
	assert.Error(t, err)
}

func TestSpeedCmd(t *testing.T) {
	d := startDaemon(t)

	out, err := run(t, d, "speed")
	require.NoError(t, err)
	assert.Equal(t, "1x\n", out)

	out, err = run(t, d, "speed", "next")
	require.NoError(t, err)
	assert.Equal(t, "1.25x\n", out)

	out, err = run(t, d, "speed", "2")
	require.NoError(t, err)
	assert.Equal(t, "2x\n", out)

	out, err = run(t, d, "speed", "next")
	require.NoError(t, err)
	assert.Equal(t, "1x\n", out)

	_, err = run(t, d, "speed", "fast")
	assert.ErrorContains(t, err, "invalid speed")
}

func TestStatusCmd_JSONWhenPiped(t *testing.T) {
	d := startDaemon(t)

	out, err := run(t, d, "status")
	require.NoError(t, err)
	var st struct {
		Window *protocol.WindowStatus `json:"window"`
		Pages  []protocol.Page        `json:"pages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.NotNil(t, st.Window)
	assert.False(t, st.Window.Exists)
	assert.Empty(t, st.Pages)
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderStatus(&out, &protocol.WindowStatus{ID: "@4", State: "normal", Exists: true}, []protocol.Page{
		{ID: "1f2e3d4c-aaaa", URL: courseURL, Active: true, Transport: "websocket", LastAccessed: now.Add(-5 * time.Second)},
		{ID: "9b8a", URL: companionAddr, WindowID: "@4", Transport: "socket"},
	}, now)

	text := out.String()
	assert.Contains(t, text, "@4 (normal)")
	assert.Contains(t, text, courseURL)
	assert.Contains(t, text, "websocket")
	assert.Contains(t, text, "5s ago")
	assert.Contains(t, text, "1f2e3d4")
	assert.NotContains(t, text, "1f2e3d4c-aaaa")

	out.Reset()
	renderStatus(&out, &protocol.WindowStatus{}, nil, now)
	assert.Contains(t, out.String(), "not open")
	assert.Contains(t, out.String(), "no pages registered")
}

func TestCloseCmd(t *testing.T) {
	d := startDaemon(t)
	out, err := run(t, d, "close")
	require.NoError(t, err)
	assert.Equal(t, "companion closed\n", out)
}

func TestSendCmd(t *testing.T) {
	d := startDaemon(t)

	out, err := run(t, d, "send", "--wait", `{"type":"PING"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"type":"PONG"`)

	_, err = run(t, d, "send", `{"type":"COMMAND_NEXT"}`)
	require.NoError(t, err)
	d.waitFor(t, 1, ofType(protocol.MsgCommandNext))

	_, err = run(t, d, "send", `{"status":"playing"}`)
	assert.ErrorContains(t, err, "missing type")
}

// syncBuffer lets the test read output while the host command writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeState(t *testing.T, path, title string) {
	t.Helper()
	data, err := json.Marshal(stateFile{Mode: protocol.ModeContent, Data: protocol.ReadingState(title, "<p>body</p>", "")})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestHostCmd(t *testing.T) {
	d := startDaemon(t)
	statePath := filepath.Join(t.TempDir(), "lesson.json")
	writeState(t, statePath, "Lesson one")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := newRootCmd()
	out := &syncBuffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(`{"type":"VIDEO_STATE_CHANGED","status":"playing"}` + "\n"))
	root.SetArgs([]string{"--socket", d.sock, "host", "--url", courseURL, "--state-file", statePath})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	// The state on disk is reported at startup and opens the companion.
	got := d.waitFor(t, 1, ofType(protocol.MsgUpdateState))
	require.NotNil(t, got.from)
	assert.Equal(t, courseURL, got.from.URL)
	require.NotNil(t, got.msg.Data)
	assert.Equal(t, "Lesson one", got.msg.Data.Title)
	require.Eventually(t, func() bool { return d.sys.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Piped stdin lines are forwarded.
	got = d.waitFor(t, 1, ofType(protocol.MsgVideoStateChanged))
	assert.Equal(t, "playing", got.msg.Status)

	// The companion comes up and asks for the state; the host reports again.
	comp, err := daemon.Dial(ctx, d.sock)
	require.NoError(t, err)
	defer comp.Close()
	_, err = comp.Hello(ctx, protocol.PageInfo{URL: companionAddr, WindowID: "@101", Active: true})
	require.NoError(t, err)
	reply, err := comp.Request(ctx, &protocol.Message{Type: protocol.MsgCompanionReady})
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeContent, reply.Mode)

	fromHost := func(r received) bool {
		return r.msg.Type == protocol.MsgUpdateState && r.from != nil && r.from.URL == courseURL
	}
	got = d.waitFor(t, 2, fromHost)
	assert.Equal(t, "Lesson one", got.msg.Data.Title)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"COMPANION_READY"`)
	}, 2*time.Second, 10*time.Millisecond)

	// Editing the file reports the new lesson.
	writeState(t, statePath, "Lesson two")
	got = d.waitFor(t, 1, func(r received) bool {
		return r.msg.Type == protocol.MsgUpdateState && r.msg.Data != nil && r.msg.Data.Title == "Lesson two"
	})
	assert.Equal(t, protocol.ModeContent, got.msg.Mode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("host did not stop")
	}
}

func TestHostCmd_RequiresURL(t *testing.T) {
	d := startDaemon(t)
	_, err := run(t, d, "host")
	assert.ErrorContains(t, err, "--url is required")
}
