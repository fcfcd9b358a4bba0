package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send <message-json>",
		Short: "Send a raw protocol message",
		Long: "send writes one message to the daemon as if it came from an unregistered page.\n" +
			"With --wait the message is sent as a request and the reply is printed.",
		Example: `  lessonctl send '{"type":"COMMAND_NEXT"}'
  lessonctl send --wait '{"type":"GET_SETTINGS"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := protocol.Decode([]byte(args[0]))
			if err != nil {
				return err
			}
			if !wait {
				return g.notify(cmd.Context(), msg)
			}
			reply, err := g.roundTrip(cmd.Context(), msg)
			if reply != nil {
				if werr := writeJSON(cmd.OutOrStdout(), reply); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for and print the reply")
	return cmd
}
