package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/api/service"
	"github.com/usenetsync/usenetsync/pkg/models"
)

var (
	getPassword string
	getUserID   string
	getQuiet    bool
)

var getCmd = &cobra.Command{
	Use:   "get <share-id> <destination>",
	Short: "Download a share into a local directory",
	Long: `Fetch a share's index from the network, then download, verify and
decrypt every file into the destination directory. Protected shares need
--password; private shares need --user naming a local user whose keys are
in the keystore.`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVar(&getPassword, "password", "", "Share password (protected shares)")
	getCmd.Flags().StringVar(&getUserID, "user", "", "Local user ID (private shares)")
	getCmd.Flags().BoolVarP(&getQuiet, "quiet", "q", false, "Suppress progress output")
}

func runGet(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		dest, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}

		started, err := eng.svc.StartDownload(ctx, service.StartDownloadParams{
			ShareID:     args[0],
			Destination: dest,
			Password:    getPassword,
			UserID:      getUserID,
		})
		if err != nil {
			return err
		}

		progress, err := waitForDownload(ctx, eng, started.JobID)
		if err != nil {
			return err
		}
		if progress.State != models.QueueSucceeded {
			return fmt.Errorf("download failed: %s", progress.LastError)
		}

		fmt.Printf("Downloaded %s to %s (%d segments", args[0], dest, progress.Verified)
		if progress.Recovered > 0 {
			fmt.Printf(", %d recovered from parity", progress.Recovered)
		}
		fmt.Println(")")
		return nil
	})
}

// waitForDownload polls the job until it reaches a terminal state.
func waitForDownload(ctx context.Context, eng *engine, jobID string) (*service.DownloadProgress, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastFetched int
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		progress, err := eng.svc.GetDownloadProgress(ctx, service.DownloadIDParams{JobID: jobID})
		if err != nil {
			return nil, err
		}

		switch progress.State {
		case models.QueueSucceeded, models.QueueFailed, models.QueueAbandoned:
			return progress, nil
		}

		if !getQuiet && progress.Total > 0 && progress.Fetched != lastFetched {
			lastFetched = progress.Fetched
			fmt.Printf("\r%d/%d segments", progress.Fetched, progress.Total)
		}
	}
}
