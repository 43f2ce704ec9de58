package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Long: `Revokes the session with the server and clears it locally. The local
session is cleared even when the server cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !session.Client.IsAuthenticated() {
			fmt.Println("Not signed in")
			return nil
		}

		if err := session.Client.Logout(cmd.Context(), ""); err != nil {
			fmt.Printf("Signed out locally (server: %v)\n", err)
			return nil
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
