package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the access token for use in scripts",
	Long: `Prints the current access token, refreshing it first when it is about
to expire. Intended for Authorization headers:

  curl -H "Authorization: Bearer $(bullwark token)" ...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !session.Client.IsAuthenticated() {
			return errNotSignedIn
		}

		if session.Client.TokenAlmostExpired() {
			if _, err := session.Client.Refresh(cmd.Context(), ""); err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
		}

		fmt.Println(session.Client.Token())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
