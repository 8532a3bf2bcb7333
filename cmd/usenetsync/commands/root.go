// Package commands implements the usenetsync CLI.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// Failure classes mapped to process exit codes. Commands wrap their
// errors so main can pick the right code.
var (
	// ErrConfig marks configuration problems (exit code 2).
	ErrConfig = errors.New("configuration error")

	// ErrStorage marks storage engine problems (exit code 3).
	ErrStorage = errors.New("storage error")

	// ErrKeystore marks keystore problems (exit code 4).
	ErrKeystore = errors.New("keystore error")
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig):
		return 2
	case errors.Is(err, ErrStorage):
		return 3
	case errors.Is(err, ErrKeystore):
		return 4
	default:
		return 1
	}
}

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "usenetsync",
	Short: "usenetsync - one-way folder synchronization over Usenet",
	Long: `usenetsync turns Usenet into write-once storage: managed folders are
scanned, segmented, encrypted and posted as articles, then shared through
compact share identifiers that recipients resolve back into files.

Use "usenetsync [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $XDG_CONFIG_HOME/usenetsync/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(getCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("usenetsync %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
