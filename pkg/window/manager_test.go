package window_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b/lessonmate/pkg/protocol"
	"github.com/b/lessonmate/pkg/store"
	"github.com/b/lessonmate/pkg/window"
	"github.com/b/lessonmate/pkg/window/windowtest"
)

type fixture struct {
	sys  *windowtest.System
	msgr *windowtest.Messenger
	kv   store.KV
	mgr  *window.Manager
}

func newFixture(t *testing.T, settle time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		sys:  windowtest.New(),
		msgr: windowtest.NewMessenger(),
		kv:   store.NewMemory(),
	}
	loc := window.NewLocator(f.sys, f.kv, companionAddr, time.Minute, nil)
	f.mgr = window.NewManager(f.sys, loc, f.msgr, window.Options{
		Command:     companionAddr + " -profile test",
		Name:        "lesson",
		SettleDelay: settle,
	}, nil)
	return f
}

var createPolicy = window.Policy{
	CreateIfAbsent: true,
	CreateFocused:  true,
	Normal:         true,
	Focus:          true,
	Forward:        true,
}

func TestManager_ConcurrentEnsureCreatesOneWindow(t *testing.T) {
	f := newFixture(t, time.Hour)
	release := f.sys.Block()

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		w, err := f.mgr.Ensure(context.Background(), nil, createPolicy)
		errs[0] = err
		if w != nil {
			ids[0] = w.ID
		}
	}()
	<-f.sys.Entered()

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := f.mgr.Ensure(context.Background(), nil, createPolicy)
			errs[i] = err
			if w != nil {
				ids[i] = w.ID
			}
		}(i)
	}
	require.Eventually(t, func() bool { return f.mgr.QueueLen() == callers-1 }, 2*time.Second, 5*time.Millisecond)

	release()
	wg.Wait()

	assert.Equal(t, 1, f.sys.CreateCalls())
	assert.Equal(t, 1, f.sys.Count())
	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestManager_SequentialEnsureReusesWindow(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	w1, err := f.mgr.Ensure(ctx, nil, createPolicy)
	require.NoError(t, err)
	w2, err := f.mgr.Ensure(ctx, nil, createPolicy)
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID)
	assert.Equal(t, 1, f.sys.CreateCalls())
}

func TestManager_QueueDrainsInFIFOOrder(t *testing.T) {
	f := newFixture(t, time.Hour)
	release := f.sys.Block()

	created := make(chan *window.Window, 1)
	go func() {
		w, _ := f.mgr.Create(context.Background(), nil)
		created <- w
	}()
	<-f.sys.Entered()

	var mu sync.Mutex
	var order []int
	var got []string
	for i := 0; i < 5; i++ {
		i := i
		f.mgr.RunExclusive(context.Background(),
			func(context.Context) (*window.Window, error) {
				t.Error("queued op must not run")
				return nil, nil
			},
			func(w *window.Window, err error) {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, i)
				if w != nil {
					got = append(got, w.ID)
				}
			})
	}
	release()
	w := <-created
	require.NotNil(t, w)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, []string{w.ID, w.ID, w.ID, w.ID, w.ID}, got)
}

func TestManager_ResolveWaitsForInFlightCreation(t *testing.T) {
	f := newFixture(t, time.Hour)
	release := f.sys.Block()

	created := make(chan *window.Window, 1)
	go func() {
		w, _ := f.mgr.Create(context.Background(), nil)
		created <- w
	}()
	<-f.sys.Entered()

	resolved := make(chan *window.Window, 1)
	go func() {
		w, _ := f.mgr.Resolve(context.Background())
		resolved <- w
	}()
	require.Eventually(t, func() bool { return f.mgr.QueueLen() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, busy := f.mgr.Ref()
	assert.True(t, busy)

	release()
	w := <-created
	r := <-resolved
	require.NotNil(t, r)
	assert.Equal(t, w.ID, r.ID)
}

func TestManager_ResolveNeverCreates(t *testing.T) {
	f := newFixture(t, time.Hour)
	w, err := f.mgr.Ensure(context.Background(), nil, window.Policy{Minimize: true})
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Zero(t, f.sys.CreateCalls())
}

func TestManager_CreatePersistsID(t *testing.T) {
	f := newFixture(t, time.Hour)
	w, err := f.mgr.Create(context.Background(), nil)
	require.NoError(t, err)

	id, ok := persistedID(t, f.kv)
	assert.True(t, ok)
	assert.Equal(t, w.ID, id)

	ref, busy := f.mgr.Ref()
	assert.False(t, busy)
	assert.Equal(t, w.ID, ref.WindowID)
	assert.True(t, ref.ExistsHint)
}

func TestManager_ParkedPayloadDeliveredOnReady(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	payload := protocol.UpdateState(protocol.ModeContent, protocol.ReadingState("Aula", "<p>x</p>", ""))

	w, err := f.mgr.Ensure(ctx, payload, createPolicy)
	require.NoError(t, err)
	assert.Empty(t, f.msgr.Sent(), "nothing is pushed before the page registers")

	f.msgr.Attach(w.ID)
	f.mgr.Ready(ctx, w.ID)

	sent := f.msgr.Sent()
	require.Len(t, sent, 1)
	assert.Same(t, payload, sent[0].Msg)

	time.Sleep(120 * time.Millisecond)
	assert.Len(t, f.msgr.Sent(), 1, "settle fallback must not deliver twice")
}

func TestManager_ParkedPayloadFallsBackToSettleDelay(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	payload := protocol.UpdateState(protocol.ModePlayer, protocol.PlayerState("Video", "playing"))

	w, err := f.mgr.Ensure(ctx, payload, createPolicy)
	require.NoError(t, err)
	f.msgr.Attach(w.ID)

	select {
	case s := <-f.msgr.Delivered():
		assert.Equal(t, w.ID, s.WindowID)
		assert.Same(t, payload, s.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("parked payload was never delivered")
	}
}

func TestManager_NewerStateReplacesParkedPayload(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	first := protocol.UpdateState(protocol.ModeContent, protocol.ReadingState("A", "", ""))
	second := protocol.UpdateState(protocol.ModeContent, protocol.ReadingState("B", "", ""))

	w, err := f.mgr.Ensure(ctx, first, createPolicy)
	require.NoError(t, err)
	_, err = f.mgr.Ensure(ctx, second, createPolicy)
	require.NoError(t, err)
	assert.Empty(t, f.msgr.Sent())

	f.msgr.Attach(w.ID)
	f.mgr.Ready(ctx, w.ID)
	sent := f.msgr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "B", sent[0].Msg.Data.Title)
}

func TestManager_RestoreIfMinimizedAndForward(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.sys.Add(window.Window{ID: "@7", State: window.StateMinimized, Pages: []window.Page{{URL: companionAddr}}})
	f.msgr.Attach("@7")

	payload := protocol.UpdateState(protocol.ModePlayer, protocol.PlayerState("Video", "paused"))
	w, err := f.mgr.Ensure(ctx, payload, window.Policy{CreateIfAbsent: true, RestoreIfMinimized: true, Forward: true})
	require.NoError(t, err)
	assert.Equal(t, "@7", w.ID)

	got, _ := f.sys.Window("@7")
	assert.Equal(t, window.StateNormal, got.State)
	require.Len(t, f.msgr.Sent(), 1)
	assert.Zero(t, f.sys.CreateCalls())
}

func TestManager_MinimizeDoesNotForward(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.sys.Add(window.Window{ID: "@7", State: window.StateNormal, Focused: true, Pages: []window.Page{{URL: companionAddr}}})
	f.msgr.Attach("@7")

	payload := protocol.UpdateState(protocol.ModePlayer, protocol.PlayerState("Video", "playing"))
	_, err := f.mgr.Ensure(ctx, payload, window.Policy{CreateIfAbsent: true, CreateState: window.StateMinimized, Minimize: true})
	require.NoError(t, err)

	got, _ := f.sys.Window("@7")
	assert.Equal(t, window.StateMinimized, got.State)
	assert.Empty(t, f.msgr.Sent())

	ref, _ := f.mgr.Ref()
	assert.Equal(t, window.StateMinimized, ref.LastKnownState)
}

func TestManager_CloseClearsIDAndToleratesMissingWindow(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	w, err := f.mgr.Create(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Close(ctx))
	_, ok := f.sys.Window(w.ID)
	assert.False(t, ok)
	_, ok = persistedID(t, f.kv)
	assert.False(t, ok)

	require.NoError(t, f.mgr.Close(ctx))
	st := f.mgr.Status(ctx)
	assert.False(t, st.Exists)
}

func TestManager_CreateFailureLeavesNoID(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.sys.CreateErr = assert.AnError

	w, err := f.mgr.Ensure(context.Background(), nil, createPolicy)
	assert.Error(t, err)
	assert.Nil(t, w)
	_, ok := persistedID(t, f.kv)
	assert.False(t, ok)
}
