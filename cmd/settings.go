package cmd

import (
	"maps"
	"slices"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/config"
	herrors "hueq/cli/internal/errors"
)

// settingsCmd shows and edits the engine settings applied to every new session.
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the engine settings applied to every session",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := [][]string{{"Setting", "Value"}}
		for _, k := range slices.Sorted(maps.Keys(current.cfg.EngineSettings)) {
			data = append(data, []string{k, current.cfg.EngineSettings[k]})
		}
		pterm.Printf("Config file: %s\n", current.file)
		return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Add or change engine settings in the config file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := maps.Clone(current.cfg.EngineSettings)
		for _, a := range args {
			k, v, ok := strings.Cut(a, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return report("reading settings", herrors.New(herrors.InvalidArgument, "expected key=value, got "+a))
			}
			settings[k] = strings.TrimSpace(v)
		}
		return saveSettings(settings)
	},
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset key...",
	Short: "Remove engine settings from the config file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := maps.Clone(current.cfg.EngineSettings)
		for _, k := range args {
			delete(settings, strings.ToLower(strings.TrimSpace(k)))
		}
		return saveSettings(settings)
	},
}

func saveSettings(settings map[string]string) error {
	if err := config.Persist(current.file, config.Key{"engine_settings"}, settings); err != nil {
		return report("saving settings", err)
	}
	pterm.Printf("✅ %d engine settings saved to %s\n", len(settings), current.file)
	return nil
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd, settingsUnsetCmd)
	rootCmd.AddCommand(settingsCmd)
}
