package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine statistics",
	Long: `Print counts for users, folders, shares, queue entries and download
jobs, plus per-server pool health when news servers are configured.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	stats, err := eng.svc.GetStats(context.Background(), struct{}{})
	if err != nil {
		return err
	}

	fmt.Printf("Users:     %d\n", stats.Users)
	fmt.Printf("Folders:   %d\n", stats.Folders)
	fmt.Printf("Shares:    %d\n", stats.Shares)
	fmt.Printf("Downloads: %d\n", stats.Downloads)

	fmt.Println("Upload queue:")
	for state, count := range stats.Uploads {
		fmt.Printf("  %-10s %d\n", state, count)
	}

	if len(stats.Servers) == 0 {
		fmt.Println("Servers:   none configured")
		return nil
	}
	fmt.Println("Servers:")
	for host, snap := range stats.Servers {
		fmt.Printf("  %-24s success_rate=%.2f avg_response_ms=%.1f consecutive_failures=%d\n",
			host, snap.SuccessRate, snap.AvgResponseMs, snap.ConsecutiveFailures)
	}
	return nil
}
