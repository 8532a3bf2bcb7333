package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

var logLines int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent daemon log lines",
	Long: `Print the tail of the daemon log file. Requires logging.output to be
a file path; with stdout/stderr logging there is nothing to read back.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 100, "Number of lines to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := logFilePath(cfg)
	if path == "" {
		return fmt.Errorf("%w: logging.output is %q; logs are only readable from a file", ErrConfig, cfg.Logging.Output)
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	tail, err := eng.svc.GetLogs(context.Background(), service.LogsParams{Lines: logLines})
	if err != nil {
		return err
	}
	for _, line := range tail.Lines {
		fmt.Println(line)
	}
	return nil
}
