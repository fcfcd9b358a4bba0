package protocol

import "math"

// LessonState is the payload produced by the extractor. The variant is
// selected by the Mode of the carrying message: PLAYER uses Title and
// Status, CONTENT uses the remaining fields.
type LessonState struct {
	Title string `json:"title"`

	// PLAYER
	Status string `json:"status,omitempty"` // "playing" | "paused" | "loading" | "ready"

	// CONTENT
	IsQuiz          bool         `json:"isQuiz,omitempty"`
	HTML            string       `json:"html,omitempty"`
	OpinionHTML     string       `json:"opinionHtml,omitempty"` // Instructor opinion, optional
	QuestionHTML    string       `json:"questionHtml,omitempty"`
	InstructionHTML string       `json:"instructionHtml,omitempty"`
	Options         []QuizOption `json:"options,omitempty"`
}

// QuizOption is one alternative of a quiz question.
type QuizOption struct {
	ID          string `json:"id"`
	HTML        string `json:"html"`
	OpinionHTML string `json:"opinionHtml,omitempty"`
	IsCorrect   bool   `json:"isCorrect,omitempty"`
}

// PlayerState builds the PLAYER variant.
func PlayerState(title, status string) *LessonState {
	return &LessonState{Title: title, Status: status}
}

// ReadingState builds the CONTENT variant for a text lesson.
func ReadingState(title, html, opinionHTML string) *LessonState {
	return &LessonState{Title: title, HTML: html, OpinionHTML: opinionHTML}
}

// UpdateState wraps a lesson state into an UPDATE_STATE message.
func UpdateState(mode Mode, data *LessonState) *Message {
	return &Message{Type: MsgUpdateState, Mode: mode, Data: data}
}

// SpeedCycle is the ordered list of playback speeds the cycle command steps through.
var SpeedCycle = []float64{1.0, 1.25, 1.5, 2.0}

// NextSpeed returns the speed after current in SpeedCycle. A current value
// that matches no entry (within 0.1) is treated as the first entry.
func NextSpeed(current float64) float64 {
	idx := -1
	for i, s := range SpeedCycle {
		if math.Abs(s-current) < 0.1 {
			idx = i
			break
		}
	}
	if idx == -1 {
		idx = 0
	}
	return SpeedCycle[(idx+1)%len(SpeedCycle)]
}
