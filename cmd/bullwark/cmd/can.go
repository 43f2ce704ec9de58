package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in, run bullwark login")

var (
	canByUUID  bool
	roleByUUID bool
)

var canCmd = &cobra.Command{
	Use:   "can <ability>",
	Short: "Check whether the signed in user holds an ability",
	Long: `Checks the cached profile for an ability key (or UUID with --uuid).
Exits 0 when granted and 1 when denied, so it can gate shell scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !session.Client.IsAuthenticated() {
			return errNotSignedIn
		}

		granted := session.Client.UserCanKey(args[0])
		if canByUUID {
			granted = session.Client.UserCan(args[0])
		}
		return reportCheck(cmd, "ability", args[0], granted)
	},
}

var hasRoleCmd = &cobra.Command{
	Use:   "has-role <role>",
	Short: "Check whether the signed in user holds a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !session.Client.IsAuthenticated() {
			return errNotSignedIn
		}

		granted := session.Client.UserHasRoleKey(args[0])
		if roleByUUID {
			granted = session.Client.UserHasRole(args[0])
		}
		return reportCheck(cmd, "role", args[0], granted)
	},
}

func init() {
	rootCmd.AddCommand(canCmd)
	rootCmd.AddCommand(hasRoleCmd)
	canCmd.Flags().BoolVar(&canByUUID, "uuid", false, "Match the ability by UUID instead of key")
	hasRoleCmd.Flags().BoolVar(&roleByUUID, "uuid", false, "Match the role by UUID instead of key")
}

type checkResult struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Granted bool   `json:"granted"`
}

func reportCheck(cmd *cobra.Command, kind, name string, granted bool) error {
	result := checkResult{Kind: kind, Name: name, Granted: granted}
	if jsonOutput {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if granted {
		fmt.Printf("[PASS] %s %s\n", kind, name)
	} else {
		fmt.Printf("[DENY] %s %s\n", kind, name)
	}

	if !granted {
		_ = closeSession(cmd, nil)
		os.Exit(1)
	}
	return nil
}
