package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

var (
	headStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the companion window and registered pages",
		Long:  "status prints a table on a terminal and a JSON object otherwise.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := g.roundTrip(cmd.Context(), &protocol.Message{Type: protocol.MsgStatus})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON || !isTerminal(out) {
				return writeJSON(out, struct {
					Window *protocol.WindowStatus `json:"window"`
					Pages  []protocol.Page        `json:"pages"`
				}{reply.Window, reply.Pages})
			}
			renderStatus(out, reply.Window, reply.Pages, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "always print JSON")
	return cmd
}

// renderStatus writes the human-readable status table.
func renderStatus(w io.Writer, win *protocol.WindowStatus, pages []protocol.Page, now time.Time) {
	switch {
	case win == nil || !win.Exists:
		fmt.Fprintln(w, headStyle.Render("companion")+"  not open")
	default:
		fmt.Fprintf(w, "%s  %s (%s)\n", headStyle.Render("companion"), win.ID, orDash(win.State))
	}
	if win != nil && win.CreationBusy {
		fmt.Fprintln(w, dimStyle.Render("  creating window…"))
	}
	fmt.Fprintln(w)

	if len(pages) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no pages registered"))
		return
	}
	cols := []int{8, 10, 9, 7, 0}
	cell := func(i int, s string) string {
		if cols[i] == 0 {
			return s
		}
		return lipgloss.NewStyle().Width(cols[i]).Render(truncate(s, cols[i]-1))
	}
	fmt.Fprintln(w, headStyle.Render(cell(0, "PAGE")+cell(1, "TRANSPORT")+cell(2, "WINDOW")+cell(3, "ACTIVE")+cell(4, "URL")))
	for _, p := range pages {
		active := "no"
		if p.Active {
			active = "yes"
		}
		line := cell(0, p.ID) + cell(1, p.Transport) + cell(2, orDash(p.WindowID)) + cell(3, active) + cell(4, p.URL)
		if !p.LastAccessed.IsZero() {
			line += dimStyle.Render("  " + now.Sub(p.LastAccessed).Round(time.Second).String() + " ago")
		}
		fmt.Fprintln(w, line)
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
