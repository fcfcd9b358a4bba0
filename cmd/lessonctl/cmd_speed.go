package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

func newSpeedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "speed [value|next]",
		Short: "Show or change the playback speed",
		Long: "Without an argument speed prints the saved playback speed. A number sets it,\n" +
			"next advances through " + fmt.Sprint(protocol.SpeedCycle) + ".\n" +
			"The new speed is saved and pushed to the course page.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := g.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := g.request(ctx, c, &protocol.Message{Type: protocol.MsgGetSettings})
			if err != nil {
				return err
			}
			current := protocol.DefaultSettings().PlaybackSpeed
			if reply.Settings != nil {
				current = reply.Settings.PlaybackSpeed
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), formatSpeed(current))
				return nil
			}

			next, err := parseSpeed(args[0], current)
			if err != nil {
				return err
			}
			if err := c.Send(&protocol.Message{Type: protocol.MsgUpdateSpeed, Speed: next}); err != nil {
				return err
			}
			// Frames on one connection are handled in order, so this read
			// sees the update.
			reply, err = g.request(ctx, c, &protocol.Message{Type: protocol.MsgGetSettings})
			if err != nil {
				return err
			}
			if reply.Settings != nil {
				next = reply.Settings.PlaybackSpeed
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatSpeed(next))
			return nil
		},
	}
}

func parseSpeed(arg string, current float64) (float64, error) {
	if arg == "next" {
		return protocol.NextSpeed(current), nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid speed %q", arg)
	}
	return v, nil
}

func formatSpeed(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64) + "x"
}
