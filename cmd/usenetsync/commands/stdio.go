package commands

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/cmdproto"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve the command protocol on stdin/stdout",
	Long: `Run the engine behind the line-oriented command protocol: one JSON
request {"command": ..., "args": ...} per input line, one JSON response
per output line. Commands mirror the HTTP API one-for-one.

This is the embedding surface for GUI frontends that manage usenetsync
as a subprocess. Logs go to stderr so stdout stays a clean protocol
stream.`,
	RunE: runStdio,
}

func runStdio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries protocol frames; never log there.
	if strings.EqualFold(cfg.Logging.Output, "stdout") || cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if eng.workers != nil {
		eng.workers.Start(ctx)
		defer eng.workers.Stop()
	}
	eng.publisher.Start(ctx)
	defer eng.publisher.Stop()

	runner := cmdproto.New(eng.svc, os.Stdout)
	logger.Info("command protocol ready", "commands", len(runner.Commands()))

	return runner.Run(ctx, os.Stdin)
}
