// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/auth"
)

// logoutCmd forgets the stored password and login state.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored password from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auth.NewKeychainService(nil)
		if err != nil {
			return report("opening the keychain", err)
		}
		st, ok, err := svc.WhoAmI()
		if err != nil {
			return report("reading the login state", err)
		}
		if !ok {
			pterm.Println("You're not logged in.")
			return nil
		}
		if err := svc.Logout(cmd.Context(), nil); err != nil {
			return report("logging out", err)
		}
		pterm.Printf("👋 Logged out %s\n", st.Account)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
