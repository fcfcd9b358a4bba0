package main

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/protocol"
)

// sender is the outbound half of the daemon connection.
type sender interface {
	Send(msg *protocol.Message) error
}

type connectedMsg struct {
	client   *daemon.Client
	settings protocol.Settings
	state    *protocol.Message // COMPANION_READY reply
}

type disconnectedMsg struct{ err error }

type reconnectMsg struct{}

type inboundMsg struct{ msg *protocol.Message }

type narrationDoneMsg struct{ seq int }

const (
	headerHeight = 2
	footerHeight = 1
)

// companionModel is the companion page: a player remote, a reading view
// with narration, and a quiz picker.
type companionModel struct {
	out      sender
	client   *daemon.Client
	narrator Narrator
	log      *zap.Logger
	connect  tea.Cmd

	connected bool
	lastErr   error

	width, height int
	vp            viewport.Model

	mode     protocol.Mode
	lesson   *protocol.LessonState
	status   string
	speed    float64
	settings protocol.Settings

	loading   bool
	predicted protocol.Mode

	cursor   int
	selected string
	wrong    map[string]bool
	correct  map[string]bool

	narrating bool
	narrSeq   int
}

func newModel(out sender, narrator Narrator, log *zap.Logger) companionModel {
	if narrator == nil {
		narrator = noopNarrator{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	settings := protocol.DefaultSettings()
	return companionModel{
		out:      out,
		narrator: narrator,
		log:      log,
		width:    80,
		height:   24,
		vp:       viewport.New(80, 24-headerHeight-footerHeight),
		mode:     protocol.ModeNone,
		speed:    settings.PlaybackSpeed,
		settings: settings,
		wrong:    map[string]bool{},
		correct:  map[string]bool{},
	}
}

func (m companionModel) Init() tea.Cmd {
	return m.connect
}

// connectCmd dials the daemon, registers this page and fetches the state
// to show.
func connectCmd(socket string, page protocol.PageInfo) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := daemon.Dial(ctx, socket)
		if err != nil {
			return disconnectedMsg{err: err}
		}
		if _, err := c.Hello(ctx, page); err != nil {
			c.Close()
			return disconnectedMsg{err: err}
		}
		out := connectedMsg{client: c, settings: protocol.DefaultSettings()}
		if reply, err := c.Request(ctx, &protocol.Message{Type: protocol.MsgGetSettings}); err == nil && reply.Settings != nil {
			out.settings = *reply.Settings
		}
		if reply, err := c.Request(ctx, &protocol.Message{Type: protocol.MsgCompanionReady}); err == nil {
			out.state = reply
		}
		return out
	}
}

func listenCmd(c *daemon.Client) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-c.Messages()
		if !ok {
			return disconnectedMsg{err: c.Err()}
		}
		return inboundMsg{msg: msg}
	}
}

func (m companionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(1, msg.Height-headerHeight-footerHeight)
		m.refreshBody()
		return m, nil

	case connectedMsg:
		if msg.client != nil {
			m.client = msg.client
			m.out = msg.client
		}
		m.connected = true
		m.lastErr = nil
		m.settings = msg.settings
		m.speed = msg.settings.PlaybackSpeed
		m.log.Info("connected to daemon")
		var cmd tea.Cmd
		if msg.state != nil && msg.state.Mode != "" {
			cmd = m.applyState(msg.state.Mode, msg.state.Data)
		}
		return m, tea.Batch(cmd, listenCmd(msg.client))

	case disconnectedMsg:
		m.connected = false
		m.lastErr = msg.err
		m.log.Info("disconnected from daemon", zap.Error(msg.err))
		return m, tea.Tick(time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.connect

	case inboundMsg:
		cmd := m.handle(msg.msg)
		return m, tea.Batch(cmd, listenCmd(m.client))

	case narrationDoneMsg:
		if msg.seq == m.narrSeq {
			m.narrating = false
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// handle applies one message pushed by the daemon.
func (m *companionModel) handle(msg *protocol.Message) tea.Cmd {
	switch msg.Type {
	case protocol.MsgUpdateState, protocol.MsgCompanionReady:
		if msg.Mode == "" {
			return nil
		}
		return m.applyState(msg.Mode, msg.Data)

	case protocol.MsgTransitionStart:
		m.loading = true
		m.predicted = msg.PredictedMode
		m.stopNarration()

	case protocol.MsgVideoStateChanged:
		m.status = msg.Status

	case protocol.MsgSpeedUpdated:
		if msg.Speed > 0 {
			m.speed = msg.Speed
		}

	case protocol.MsgQuizFeedbackError:
		if m.selected != "" {
			m.wrong[m.selected] = true
		}

	case protocol.MsgQuizRevealCorrect:
		for _, id := range msg.CorrectIDs {
			m.correct[id] = true
		}

	case protocol.MsgCommandPlayPause:
		if m.isReading() {
			return m.toggleNarration()
		}

	case protocol.MsgCommandCycleSpeed:
		m.speed = protocol.NextSpeed(m.speed)

	case protocol.MsgSetSetting, protocol.MsgGetSettings:
		if msg.Settings != nil {
			m.settings = *msg.Settings
		}
	}
	m.refreshBody()
	return nil
}

// applyState shows a new lesson state. Quiz marks and the cursor reset only
// when the lesson changes, so a re-sent state keeps them.
func (m *companionModel) applyState(mode protocol.Mode, data *protocol.LessonState) tea.Cmd {
	same := m.mode == mode && m.lesson != nil && data != nil && m.lesson.Title == data.Title
	m.loading = false
	m.mode = mode
	m.lesson = data
	if !same {
		m.cursor = 0
		m.selected = ""
		m.wrong = map[string]bool{}
		m.correct = map[string]bool{}
		m.vp.GotoTop()
		m.stopNarration()
	}
	if mode == protocol.ModePlayer && data != nil && data.Status != "" {
		m.status = data.Status
	}
	m.refreshBody()

	if !same && m.isReading() && m.settings.AutoReadEnabled {
		return m.startNarration()
	}
	return nil
}

func (m companionModel) isReading() bool {
	return m.mode == protocol.ModeContent && m.lesson != nil && !m.lesson.IsQuiz
}

func (m companionModel) isQuiz() bool {
	return m.mode == protocol.ModeContent && m.lesson != nil && m.lesson.IsQuiz
}

func (m *companionModel) send(msg *protocol.Message) {
	if m.out == nil {
		return
	}
	if err := m.out.Send(msg); err != nil {
		m.log.Debug("send failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (m companionModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.stopNarration()
		return m, tea.Quit

	case " ", "p":
		if m.isReading() {
			return m, m.toggleNarration()
		}
		m.send(&protocol.Message{Type: protocol.MsgCommandPlayPause})

	case "r":
		if m.isReading() {
			return m, m.toggleNarration()
		}

	case "n":
		m.send(&protocol.Message{Type: protocol.MsgCommandNext})
	case "b":
		m.send(&protocol.Message{Type: protocol.MsgCommandPrev})

	case "s":
		m.speed = protocol.NextSpeed(m.speed)
		m.send(&protocol.Message{Type: protocol.MsgUpdateSpeed, Speed: m.speed})

	case "f":
		if m.isReading() {
			m.stopNarration()
			m.send(&protocol.Message{Type: protocol.MsgFinishReading})
		}

	case "a":
		m.send(&protocol.Message{
			Type:  protocol.MsgSetSetting,
			ID:    "companion-autoread",
			Key:   protocol.KeyAutoReadEnabled,
			Value: boolJSON(!m.settings.AutoReadEnabled),
		})

	case "up", "k", "down", "j":
		if m.isQuiz() {
			m.moveCursor(key == "down" || key == "j")
			m.refreshBody()
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case "enter":
		if m.isQuiz() && len(m.lesson.Options) > 0 {
			m.selectOption(m.cursor)
		}

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if m.isQuiz() {
			if i := int(key[0] - '1'); i < len(m.lesson.Options) {
				m.cursor = i
				m.selectOption(i)
			}
		}

	default:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	m.refreshBody()
	return m, nil
}

func (m *companionModel) moveCursor(down bool) {
	n := len(m.lesson.Options)
	if n == 0 {
		return
	}
	if down {
		m.cursor = (m.cursor + 1) % n
	} else {
		m.cursor = (m.cursor - 1 + n) % n
	}
}

func (m *companionModel) selectOption(i int) {
	opt := m.lesson.Options[i]
	m.selected = opt.ID
	m.send(&protocol.Message{Type: protocol.MsgSelectOption, OptionID: opt.ID})
}

func (m *companionModel) toggleNarration() tea.Cmd {
	if m.narrating {
		m.stopNarration()
		m.refreshBody()
		return nil
	}
	return m.startNarration()
}

func (m *companionModel) startNarration() tea.Cmd {
	text := m.lesson.Title + "\n\n" + htmlToText(m.lesson.HTML)
	if m.lesson.OpinionHTML != "" {
		text += "\n\n" + htmlToText(m.lesson.OpinionHTML)
	}
	m.narrSeq++
	seq := m.narrSeq
	m.narrating = true
	done := m.narrator.Speak(text, m.speed)
	return func() tea.Msg {
		<-done
		return narrationDoneMsg{seq: seq}
	}
}

func (m *companionModel) stopNarration() {
	if !m.narrating {
		return
	}
	m.narrSeq++
	m.narrating = false
	m.narrator.Stop()
}

func boolJSON(b bool) []byte {
	if b {
		return []byte("true")
	}
	return []byte("false")
}
