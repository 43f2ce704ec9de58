package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/bullwark/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		st := cli.Describe(session.Client)
		if jsonOutput {
			return printJSON(st)
		}
		printStatus(st)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !session.Client.IsAuthenticated() {
			return errNotSignedIn
		}

		user := session.Client.User()
		if user == nil || session.Client.ProfileStale() {
			u, err := session.Client.ReloadProfile(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}
			user = u
		}

		if jsonOutput {
			return printJSON(user)
		}
		fmt.Println(displayName(user))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func printStatus(st cli.Status) {
	if !st.Authenticated {
		fmt.Println("Not signed in")
		return
	}

	fmt.Printf("Signed in as: %s\n", displayName(st.User))
	if st.TenantUUID != "" {
		fmt.Printf("Tenant:       %s\n", st.TenantUUID)
	}
	if st.CustomerUUID != "" {
		fmt.Printf("Customer:     %s\n", st.CustomerUUID)
	}
	if st.ExpiresAt != nil {
		tag := ""
		if st.AlmostExpired {
			tag = " [EXPIRING]"
		}
		fmt.Printf("Expires:      %s (in %s)%s\n", st.ExpiresAt.Local().Format(time.RFC3339), st.ExpiresIn, tag)
	}
	if st.CachedAt != nil {
		tag := ""
		if st.ProfileStale {
			tag = " [STALE]"
		}
		fmt.Printf("Profile from: %s%s\n", st.CachedAt.Local().Format(time.RFC3339), tag)
	}
	if st.User != nil {
		for _, r := range st.User.Roles {
			fmt.Printf("Role:         %s (%s)\n", r.Key, r.UUID)
		}
	}
}
