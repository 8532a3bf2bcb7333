package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a configuration file with all defaults filled in.

The file lands at $XDG_CONFIG_HOME/usenetsync/config.yaml unless --config
points elsewhere. Add at least one nntp server before starting transfers.

Examples:
  # Initialize config at the default location
  usenetsync init

  # Initialize at a custom path, overwriting an existing file
  usenetsync init --config /etc/usenetsync/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%w: config file already exists at %s (use --force to overwrite)", ErrConfig, path)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your news servers under nntp.servers")
	fmt.Println("  2. Start the daemon with: usenetsync start")
	return nil
}
