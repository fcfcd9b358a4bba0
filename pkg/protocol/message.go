package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of message. It is the only discriminator:
// receivers ignore types they do not know.
type MessageType string

const (
	// Extractor -> coordinator
	MsgUpdateState        MessageType = "UPDATE_STATE"
	MsgTransitionStart    MessageType = "TRANSITION_START"
	MsgPrepareReadingMode MessageType = "PREPARE_READING_MODE"

	// Host page -> companion (through the coordinator)
	MsgVideoStateChanged MessageType = "VIDEO_STATE_CHANGED"
	MsgSpeedUpdated      MessageType = "SPEED_UPDATED"
	MsgQuizFeedbackError MessageType = "QUIZ_FEEDBACK_ERROR"
	MsgQuizRevealCorrect MessageType = "QUIZ_REVEAL_CORRECT"

	// Companion -> coordinator
	MsgCompanionReady MessageType = "COMPANION_READY" // Request: reply carries mode/data

	// Commands routed to the host page
	MsgCommandPlayPause  MessageType = "COMMAND_PLAY_PAUSE"
	MsgCommandNext       MessageType = "COMMAND_NEXT"
	MsgCommandPrev       MessageType = "COMMAND_PREV"
	MsgCommandCycleSpeed MessageType = "COMMAND_CYCLE_SPEED"
	MsgUpdateSpeed       MessageType = "UPDATE_SPEED"
	MsgSelectOption      MessageType = "SELECT_OPTION"
	MsgFinishReading     MessageType = "FINISH_READING"

	// Coordinator plumbing
	MsgHello          MessageType = "HELLO"       // Request: registers the sender as a page
	MsgPageStatus     MessageType = "PAGE_STATUS" // Page active flag changed
	MsgShortcut       MessageType = "SHORTCUT"    // Global keyboard shortcut fired
	MsgGetSettings    MessageType = "GET_SETTINGS"
	MsgSetSetting     MessageType = "SET_SETTING"
	MsgCloseCompanion MessageType = "CLOSE_COMPANION"
	MsgStatus         MessageType = "STATUS"
	MsgPing           MessageType = "PING"
	MsgPong           MessageType = "PONG"
)

// Mode selects the LessonState variant carried by UPDATE_STATE.
type Mode string

const (
	ModePlayer  Mode = "PLAYER"
	ModeContent Mode = "CONTENT"
	ModeNone    Mode = "NONE"
)

// Shortcut names as bound by the host OS or tmux.
const (
	ShortcutNextLesson = "next-lesson"
	ShortcutPlayPause  = "play-pause"
	ShortcutCycleSpeed = "cycle-speed"
)

// Message is the envelope exchanged between every context. The wire form is
// flat: `{"type": "...", ...fields}`. Only the fields relevant to Type are set.
type Message struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`      // Set on requests
	ReplyTo string      `json:"replyTo,omitempty"` // Set on replies, equals the request ID

	Mode          Mode         `json:"mode,omitempty"`
	PredictedMode Mode         `json:"predictedMode,omitempty"`
	Data          *LessonState `json:"data,omitempty"`

	Status     string   `json:"status,omitempty"`   // VIDEO_STATE_CHANGED: "playing" | "paused"
	Speed      float64  `json:"speed,omitempty"`    // UPDATE_SPEED, SPEED_UPDATED
	OptionID   string   `json:"optionId,omitempty"` // SELECT_OPTION
	CorrectIDs []string `json:"correctIds,omitempty"`
	Command    string   `json:"command,omitempty"` // SHORTCUT

	Page     *PageInfo       `json:"page,omitempty"`   // HELLO, PAGE_STATUS
	PageID   string          `json:"pageId,omitempty"` // HELLO reply
	Key      string          `json:"key,omitempty"`    // SET_SETTING
	Value    json.RawMessage `json:"value,omitempty"`  // SET_SETTING
	Settings *Settings       `json:"settings,omitempty"`
	Window   *WindowStatus   `json:"window,omitempty"` // STATUS reply
	Pages    []Page          `json:"pages,omitempty"`  // STATUS reply
	Error    string          `json:"error,omitempty"`
}

// PageInfo is what a context reports about itself when it registers.
type PageInfo struct {
	URL      string `json:"url"`
	WindowID string `json:"windowId,omitempty"`
	Active   bool   `json:"active"`
}

// Page is a registered, addressable context as seen by the coordinator.
type Page struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	WindowID     string    `json:"windowId,omitempty"`
	Active       bool      `json:"active"`
	LastAccessed time.Time `json:"lastAccessed"`
	Transport    string    `json:"transport"` // "socket" | "websocket"
}

// WindowStatus describes the companion window in STATUS replies.
type WindowStatus struct {
	ID           string `json:"id,omitempty"`
	State        string `json:"state,omitempty"`
	Exists       bool   `json:"exists"`
	CreationBusy bool   `json:"creationBusy"`
}

// Reply builds the reply skeleton for a request.
func (m *Message) Reply(t MessageType) *Message {
	return &Message{Type: t, ReplyTo: m.ID}
}

// IsReply reports whether the message answers an earlier request.
func (m *Message) IsReply() bool {
	return m.ReplyTo != ""
}

// Clone returns a shallow copy with a fresh envelope, so the same payload can
// be forwarded to several destinations without sharing request ids.
func (m *Message) Clone() *Message {
	c := *m
	c.ID = ""
	c.ReplyTo = ""
	return &c
}

// Decode parses one wire frame.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &msg, nil
}

// Encode serializes one wire frame without the trailing newline.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return data, nil
}

// ShortcutCommand maps a shortcut name to the command it triggers.
func ShortcutCommand(name string) (MessageType, bool) {
	switch name {
	case ShortcutNextLesson:
		return MsgCommandNext, true
	case ShortcutPlayPause:
		return MsgCommandPlayPause, true
	case ShortcutCycleSpeed:
		return MsgCommandCycleSpeed, true
	}
	return "", false
}
