package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/b/lessonmate/pkg/protocol"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(lipgloss.Color("#1f6feb")).Padding(0, 1)
	badgeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#1f6feb")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
	wrongStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149")).Strikethrough(true)
	correctStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950")).Bold(true)
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#d29922"))
)

func formatSpeed(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64) + "x"
}

func (m companionModel) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m companionModel) header() string {
	title := "lessonmate"
	if m.lesson != nil && m.lesson.Title != "" {
		title = m.lesson.Title
	}
	right := badgeStyle.Render(string(m.mode)) + " " + mutedStyle.Render(formatSpeed(m.speed))
	room := m.width - lipgloss.Width(right) - 3
	return titleStyle.Render(truncateToWidth(title, room)) + " " + right
}

func (m companionModel) statusLine() string {
	if !m.connected {
		line := "connecting to daemon…"
		if m.lastErr != nil {
			line = "daemon unavailable, retrying"
		}
		return warnStyle.Render(truncateToWidth(line, m.width))
	}
	var parts []string
	switch {
	case m.loading:
		parts = append(parts, "loading next lesson")
	case m.mode == protocol.ModePlayer:
		parts = append(parts, playerIcon(m.status)+" "+orDefault(m.status, "ready"))
	case m.isQuiz():
		parts = append(parts, fmt.Sprintf("quiz · %d options", len(m.lesson.Options)))
	case m.isReading():
		if m.narrating {
			parts = append(parts, "🔊 reading aloud")
		} else {
			parts = append(parts, "reading")
		}
	}
	if m.settings.AutoReadEnabled {
		parts = append(parts, "auto-read on")
	}
	return mutedStyle.Render(truncateToWidth(strings.Join(parts, " · "), m.width))
}

func (m companionModel) footer() string {
	var keys string
	switch {
	case m.isQuiz():
		keys = "↑/↓ move · enter/1-9 answer · n next · b prev · q quit"
	case m.isReading():
		keys = "space read/stop · f finish · n next · b prev · s speed · a auto-read · q quit"
	default:
		keys = "space play/pause · n next · b prev · s speed · q quit"
	}
	return mutedStyle.Render(truncateToWidth(keys, m.width))
}

// refreshBody re-renders the scrollable body for the current state.
func (m *companionModel) refreshBody() {
	m.vp.SetContent(m.body())
}

func (m companionModel) body() string {
	width := max(20, m.width-2)
	wrap := lipgloss.NewStyle().Width(width)
	switch {
	case m.loading:
		if m.predicted == protocol.ModePlayer {
			return mutedStyle.Render("Loading video…")
		}
		return mutedStyle.Render("Loading lesson…")

	case m.mode == protocol.ModePlayer:
		return strings.Join([]string{
			"",
			"   " + playerIcon(m.status) + "  " + orDefault(m.status, "ready"),
			"",
			"   [b] ⏮   [space] ⏯   [n] ⏭",
			"",
			"   speed " + formatSpeed(m.speed) + "  [s] cycle",
		}, "\n")

	case m.isQuiz():
		var lines []string
		if q := htmlToText(m.lesson.QuestionHTML); q != "" {
			lines = append(lines, wrap.Render(q), "")
		}
		if ins := htmlToText(m.lesson.InstructionHTML); ins != "" {
			lines = append(lines, mutedStyle.Render(wrap.Render(ins)), "")
		}
		for i, opt := range m.lesson.Options {
			lines = append(lines, m.renderOption(i, opt, width))
		}
		return strings.Join(lines, "\n")

	case m.isReading():
		text := htmlToText(m.lesson.HTML)
		if op := htmlToText(m.lesson.OpinionHTML); op != "" {
			text += "\n\n" + badgeStyle.Render("Instructor's note") + "\n" + op
		}
		return wrap.Render(text)
	}
	return mutedStyle.Render("Waiting for a lesson…")
}

func (m companionModel) renderOption(i int, opt protocol.QuizOption, width int) string {
	marker := "  "
	if i == m.cursor {
		marker = cursorStyle.Render("› ")
	}
	label := fmt.Sprintf("%d. %s", i+1, htmlToText(opt.HTML))
	style := lipgloss.NewStyle().Width(width - 4)
	switch {
	case m.correct[opt.ID]:
		label = correctStyle.Render("✓ " + label)
	case m.wrong[opt.ID]:
		label = wrongStyle.Render("✗ " + label)
	case opt.ID == m.selected:
		label = cursorStyle.Render(label)
	}
	out := marker + style.Render(label)
	if m.correct[opt.ID] && opt.OpinionHTML != "" {
		out += "\n    " + mutedStyle.Render(htmlToText(opt.OpinionHTML))
	}
	return out
}

func playerIcon(status string) string {
	switch status {
	case "playing":
		return "▶"
	case "paused":
		return "⏸"
	case "loading":
		return "…"
	}
	return "■"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
