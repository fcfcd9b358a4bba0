package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/b/lessonmate/pkg/protocol"
)

func newSettingsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change user settings",
	}
	cmd.AddCommand(newSettingsGetCmd(g), newSettingsSetCmd(g))
	return cmd
}

func newSettingsGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "get [key]",
		Short:     "Print all settings, or one value",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: protocol.SettingKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := g.roundTrip(cmd.Context(), &protocol.Message{Type: protocol.MsgGetSettings})
			if err != nil {
				return err
			}
			if reply.Settings == nil {
				return fmt.Errorf("daemon returned no settings")
			}
			if len(args) == 0 {
				return writeJSON(cmd.OutOrStdout(), reply.Settings)
			}
			v, err := settingValue(*reply.Settings, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newSettingsSetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Example: `  lessonctl settings set autoReadEnabled false
  lessonctl settings set playbackSpeed 1.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, raw := args[0], args[1]
			if !slices.Contains(protocol.SettingKeys, key) {
				return fmt.Errorf("unknown setting %q (want one of %v)", key, protocol.SettingKeys)
			}
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("value %q is not a JSON literal", raw)
			}
			reply, err := g.roundTrip(cmd.Context(), &protocol.Message{
				Type:  protocol.MsgSetSetting,
				Key:   key,
				Value: json.RawMessage(raw),
			})
			if err != nil {
				return err
			}
			if reply.Settings != nil {
				return writeJSON(cmd.OutOrStdout(), reply.Settings)
			}
			return nil
		},
	}
}

func settingValue(s protocol.Settings, key string) (string, error) {
	switch key {
	case protocol.KeyPlaybackSpeed:
		return strconv.FormatFloat(s.PlaybackSpeed, 'f', -1, 64), nil
	case protocol.KeyAutoAdvanceEnabled:
		return strconv.FormatBool(s.AutoAdvanceEnabled), nil
	case protocol.KeyShortcutsEnabled:
		return strconv.FormatBool(s.ShortcutsEnabled), nil
	case protocol.KeyAutoReadEnabled:
		return strconv.FormatBool(s.AutoReadEnabled), nil
	case protocol.KeyAutoMinimizeEnabled:
		return strconv.FormatBool(s.AutoMinimizeEnabled), nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}
