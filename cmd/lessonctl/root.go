package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/b/lessonmate/pkg/daemon"
	"github.com/b/lessonmate/pkg/protocol"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	profile string
	socket  string
	timeout time.Duration
}

// newRootCmd creates the root lessonctl command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "lessonctl",
		Short:         "Control the lessonmate daemon",
		Long:          "lessonctl sends shortcuts and settings to the lessonmate daemon,\nshows what it is tracking and can stand in for a course page.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.profile, "profile", "default", "daemon profile")
	cmd.PersistentFlags().StringVar(&g.socket, "socket", os.Getenv("LESSONMATE_SOCKET"), "daemon socket (default: derived from --profile)")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 3*time.Second, "how long to wait for the daemon")

	cmd.AddCommand(
		newHostCmd(g),
		newSendCmd(g),
		newShortcutCmd(g),
		newSettingsCmd(g),
		newSpeedCmd(g),
		newStatusCmd(g),
		newCloseCmd(g),
	)
	return cmd
}

func (g *globalFlags) socketPath() string {
	if g.socket != "" {
		return g.socket
	}
	return daemon.SocketPath(g.profile)
}

func (g *globalFlags) dial(ctx context.Context) (*daemon.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	c, err := daemon.Dial(ctx, g.socketPath())
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable (is lessonmate-daemon running?): %w", err)
	}
	return c, nil
}

// request sends msg on c and waits for the reply. A reply carrying an error
// is returned as one.
func (g *globalFlags) request(ctx context.Context, c *daemon.Client, msg *protocol.Message) (*protocol.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	reply, err := c.Request(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return reply, fmt.Errorf("%s: %s", msg.Type, reply.Error)
	}
	return reply, nil
}

// roundTrip dials, sends one request and hangs up.
func (g *globalFlags) roundTrip(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	c, err := g.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return g.request(ctx, c, msg)
}

// notify dials, sends one message that has no reply and hangs up.
func (g *globalFlags) notify(ctx context.Context, msg *protocol.Message) error {
	c, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Send(msg)
}

// writeJSON writes v as a single JSON line.
func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
