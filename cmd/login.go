// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/auth"
	"hueq/cli/internal/config"
	herrors "hueq/cli/internal/errors"
)

var saveUsername bool

// loginCmd verifies a password against the server and keeps it in the OS keychain so later
// commands run without prompting.
var loginCmd = &cobra.Command{
	Use:     "login",
	Aliases: []string{"auth"},
	Short:   "Verify your Hue password and store it in the OS keychain",
	Long: `The login command performs the Hue login handshake with the configured user and base URL.
On success the password is stored in the OS keychain and the user becomes the default account
for later commands. The password is read from --password, HUEQ_PASSWORD or an interactive prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		svc, err := auth.NewKeychainService(passwordPrompt())
		if err != nil {
			return report("opening the keychain", err)
		}
		user := current.cfg.Username
		if user == "" {
			if st, ok, _ := svc.WhoAmI(); ok {
				user = st.Account
			}
		}
		if user == "" {
			return report("logging in", herrors.New(herrors.InvalidArgument, "pass --username or set username in the config file"))
		}

		password, _, err := svc.FreshPassword(user, passwordFlag)
		if err != nil {
			return report("logging in", err)
		}

		area := startStatusArea(func(frame string) string { return frame + " Logging in to " + current.cfg.BaseURL })
		api, err := svc.Login(ctx, backendOptions(user, password))
		area.Stop()
		if err != nil {
			return report("logging in", err)
		}
		_ = api.Logout(ctx)

		if saveUsername {
			if err := config.Persist(current.file, config.Key{"username"}, user); err != nil {
				return report("saving the username", err)
			}
		}
		pterm.Printf("✅ Logged in as %s\n", pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(user))
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&saveUsername, "save", false, "also write the username to the config file")
	rootCmd.AddCommand(loginCmd)
}
