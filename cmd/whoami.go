package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"hueq/cli/internal/auth"
)

// whoamiCmd shows the stored account.
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in account",
	Long: `The whoami command prints the account stored by hueq login, the server it logged in to
and whether its password is still in the OS keychain. It does not contact the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auth.NewKeychainService(nil)
		if err != nil {
			return report("opening the keychain", err)
		}
		st, ok, err := svc.WhoAmI()
		if err != nil || !ok {
			pterm.Println("🔒 You're not logged in yet!")
			pterm.Println("   Run 'hueq login --username <user>' to get started.")
			return nil
		}

		password := "stored"
		if !svc.HasPassword(st.BaseURL, st.Account) {
			password = "missing, run hueq login"
		}
		pterm.Printf("👤 Current user: %s\n", st.Account)
		pterm.Printf("   Server:       %s\n", st.BaseURL)
		pterm.Printf("   Since:        %s\n", st.LoggedInAt.Local().Format("2006-01-02 15:04"))
		pterm.Printf("   Password:     %s\n", password)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
