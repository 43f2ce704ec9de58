package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/bullwark/internal/cli"
	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
)

var (
	loginEmail         string
	loginPassword      string
	loginPasswordStdin bool
	loginOTP           string
	loginTOTPSecret    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Signs in and stores the session. The password is read from
--password, BULLWARK_PASSWORD or, with --password-stdin, the first line of
standard input.

Accounts with a second factor need --otp, or --totp-secret to compute the
code locally.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", os.Getenv("BULLWARK_EMAIL"), "Account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from standard input")
	loginCmd.Flags().StringVar(&loginOTP, "otp", "", "One-time code")
	loginCmd.Flags().StringVar(&loginTOTPSecret, "totp-secret", os.Getenv("BULLWARK_TOTP_SECRET"), "Base32 TOTP secret to generate the one-time code from")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password, err := readPassword()
	if err != nil {
		return err
	}

	creds, err := cli.Credentials(loginEmail, password, loginOTP, loginTOTPSecret, time.Now())
	if err != nil {
		return err
	}

	user, err := session.Client.Login(cmd.Context(), creds)
	if err != nil {
		var apiErr *bullwark.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "otp_required" {
			return errors.New("a one-time code is required, pass --otp or --totp-secret")
		}
		return fmt.Errorf("login failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cli.Describe(session.Client))
	}
	fmt.Printf("Signed in as %s\n", displayName(user))
	return nil
}

func readPassword() (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if !loginPasswordStdin {
		return os.Getenv("BULLWARK_PASSWORD"), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(u *bullwark.User) string {
	if u == nil {
		return "unknown user"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", name, u.Email)
}
