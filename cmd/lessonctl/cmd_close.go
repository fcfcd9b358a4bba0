package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

func newCloseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the companion window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := g.roundTrip(cmd.Context(), &protocol.Message{Type: protocol.MsgCloseCompanion}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "companion closed")
			return nil
		},
	}
}
