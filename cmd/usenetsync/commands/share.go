package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/api/service"
	"github.com/usenetsync/usenetsync/pkg/models"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Publish folders and manage shares",
}

var (
	shareMode       string
	shareExpiryDays int
	sharePassword   string
	shareUsers      []string
	shareFolderID   string
	shareExtendDays int
)

var shareCreateCmd = &cobra.Command{
	Use:   "create <folder-id>",
	Short: "Publish a folder version as a share",
	Long: `Publish the folder's current version under a fresh share identifier.
The command waits for the version's queued uploads to settle before the
index is sealed and posted, so it can take a while on large folders.

Modes:
  public     anyone holding the share identifier can download
  protected  recipients must also supply the password
  private    only users named with --user can download`,
	Args: cobra.ExactArgs(1),
	RunE: runShareCreate,
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shares",
	Args:  cobra.NoArgs,
	RunE:  runShareList,
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke <share-id>",
	Short: "Revoke a share",
	Long: `Mark a share revoked. New downloads through this engine are refused;
articles already on the network cannot be withdrawn.`,
	Args: cobra.ExactArgs(1),
	RunE: runShareRevoke,
}

var shareExtendCmd = &cobra.Command{
	Use:   "extend <share-id>",
	Short: "Extend a share's expiry",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareExtend,
}

func init() {
	shareCreateCmd.Flags().StringVar(&shareMode, "mode", "public", "Access mode: public, protected or private")
	shareCreateCmd.Flags().IntVar(&shareExpiryDays, "expiry-days", 0, "Days until expiry (default from config, 0 there means never)")
	shareCreateCmd.Flags().StringVar(&sharePassword, "password", "", "Password (protected mode)")
	shareCreateCmd.Flags().StringArrayVar(&shareUsers, "user", nil, "Authorized user ID (private mode, repeatable)")

	shareListCmd.Flags().StringVar(&shareFolderID, "folder", "", "Only shares of this folder")

	shareExtendCmd.Flags().IntVar(&shareExtendDays, "days", 30, "Days to add to the expiry")

	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareListCmd)
	shareCmd.AddCommand(shareRevokeCmd)
	shareCmd.AddCommand(shareExtendCmd)
}

func runShareCreate(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		pub, err := eng.svc.CreateShare(ctx, service.CreateShareParams{
			FolderID:        args[0],
			Mode:            shareMode,
			ExpiryDays:      shareExpiryDays,
			Password:        sharePassword,
			AuthorizedUsers: shareUsers,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Share created: %s\n", pub.ShareID)
		fmt.Printf("  Mode:    %s\n", pub.AccessMode)
		fmt.Printf("  Version: %d\n", pub.FolderVersion)
		if pub.ExpiresAt != nil {
			fmt.Printf("  Expires: %s\n", pub.ExpiresAt.Format("2006-01-02 15:04 MST"))
		} else {
			fmt.Println("  Expires: never")
		}
		if pub.Status == models.SharePartial {
			fmt.Println("\nWarning: some segments failed to upload; the share is partial.")
		}
		return nil
	})
}

func runShareList(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		shares, err := eng.svc.ListShares(ctx, service.ListSharesParams{FolderID: shareFolderID})
		if err != nil {
			return err
		}
		if len(shares) == 0 {
			fmt.Println("No shares.")
			return nil
		}
		for _, p := range shares {
			expiry := "never"
			if p.ExpiresAt != nil {
				expiry = p.ExpiresAt.Format("2006-01-02")
			}
			fmt.Printf("%s  %-9s %-8s v%-3d expires=%s folder=%s\n",
				p.ShareID, p.AccessMode, p.Status, p.FolderVersion, expiry, shortID(p.FolderID))
		}
		return nil
	})
}

func runShareRevoke(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		if _, err := eng.svc.RevokeShare(ctx, service.ShareIDParams{ShareID: args[0]}); err != nil {
			return err
		}
		fmt.Println("Share revoked. Articles already posted remain on the network until they age out.")
		return nil
	})
}

func runShareExtend(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		pub, err := eng.svc.ExtendShare(ctx, service.ExtendShareParams{
			ShareID: args[0],
			Days:    shareExtendDays,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Share %s now expires %s\n", pub.ShareID, pub.ExpiresAt.Format("2006-01-02 15:04 MST"))
		return nil
	})
}

// shortID abbreviates a 64-hex identifier for table output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + ".."
	}
	return id
}
