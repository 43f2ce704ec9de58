package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/bullwark/internal/cli"
)

var refreshToken string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, err := session.Client.Refresh(cmd.Context(), refreshToken)
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}

		if jsonOutput {
			return printJSON(cli.Describe(session.Client))
		}
		fmt.Printf("Session refreshed for %s, expires in %s\n",
			displayName(user), session.Client.TokenExpiresIn().Round(time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token to use instead of the stored one")
}
