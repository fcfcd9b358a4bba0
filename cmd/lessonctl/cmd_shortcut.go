package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

var shortcutNames = []string{
	protocol.ShortcutNextLesson,
	protocol.ShortcutPlayPause,
	protocol.ShortcutCycleSpeed,
}

func newShortcutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shortcut <next-lesson|play-pause|cycle-speed>",
		Short: "Fire a global keyboard shortcut",
		Long: "shortcut is meant to be bound to a key, for example:\n\n" +
			"  tmux bind-key -n M-n run-shell 'lessonctl shortcut next-lesson'\n\n" +
			"The daemon drops shortcuts while shortcutsEnabled is off.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: shortcutNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := protocol.ShortcutCommand(args[0]); !ok {
				return fmt.Errorf("unknown shortcut %q (want one of %v)", args[0], shortcutNames)
			}
			return g.notify(cmd.Context(), &protocol.Message{Type: protocol.MsgShortcut, Command: args[0]})
		},
	}
}
