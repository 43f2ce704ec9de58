package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/bullwark/internal/cli"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
var BuildVersion = "v0.1.0"

var (
	jsonOutput bool
	session    *cli.Session
)

var rootCmd = &cobra.Command{
	Use:   "bullwark",
	Short: "Bullwark session client",
	Long: `Signs in to a Bullwark API and keeps the session on disk between runs.

Configuration is read from the environment: BULLWARK_API_URL and
BULLWARK_TENANT are required, BULLWARK_STORAGE selects where the session is
kept (memory, file, sqlite, bbolt, redis).`,
	SilenceUsage:      true,
	PersistentPreRunE: openSession,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.Version = BuildVersion

	// Runs after failed commands too, unlike PersistentPostRun.
	cobra.OnFinalize(func() { _ = closeSession(nil, nil) })
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func openSession(cmd *cobra.Command, _ []string) error {
	if !needsSession(cmd) {
		return nil
	}

	cfg := cli.LoadConfig()
	logger := slogx.New(slogx.Config{
		Service: "bullwark-cli",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stderr,
	})

	s, err := cli.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	session = s
	return nil
}

// needsSession is false for cobra's built in help and completion commands.
func needsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func closeSession(*cobra.Command, []string) error {
	if session == nil {
		return nil
	}
	s := session
	session = nil
	return s.Close()
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
