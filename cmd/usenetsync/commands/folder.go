package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage synchronized folders",
}

var folderName string

var folderAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a local directory for synchronization",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderAdd,
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed folders",
	Args:  cobra.NoArgs,
	RunE:  runFolderList,
}

var folderIndexCmd = &cobra.Command{
	Use:   "index <folder-id>",
	Short: "Index a folder and enqueue its segments for upload",
	Long: `Run the scan -> hash -> segment -> parity -> enqueue pipeline for one
folder. The command waits for the run to finish; posting happens in the
daemon's upload workers.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderIndex,
}

var folderRemoveCmd = &cobra.Command{
	Use:   "remove <folder-id>",
	Short: "Remove a folder and its local records",
	Long: `Remove a managed folder. Local files stay untouched; already-posted
articles remain on Usenet until they age out.`,
	Args: cobra.ExactArgs(1),
	RunE: runFolderRemove,
}

func init() {
	folderAddCmd.Flags().StringVar(&folderName, "name", "", "Display name (default: directory name)")
	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderIndexCmd)
	folderCmd.AddCommand(folderRemoveCmd)
}

// withEngine loads config, sets up logging and runs fn over a wired
// engine.
func withEngine(fn func(ctx context.Context, eng *engine) error) error {
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

	return fn(context.Background(), eng)
}

func runFolderAdd(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		folder, err := eng.svc.AddFolder(ctx, service.AddFolderParams{
			Path: path,
			Name: folderName,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Folder registered: %s\n", folder.Name)
		fmt.Printf("  ID:   %s\n", folder.ID)
		fmt.Printf("  Path: %s\n", folder.Path)
		return nil
	})
}

func runFolderList(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		folders, err := eng.svc.ListFolders(ctx, struct{}{})
		if err != nil {
			return err
		}
		if len(folders) == 0 {
			fmt.Println("No folders.")
			return nil
		}
		for _, f := range folders {
			dirty := ""
			if f.Dirty {
				dirty = " (changed on disk)"
			}
			fmt.Printf("%s  v%d  %d files  %s%s\n", f.ID, f.Version, f.FileCount, f.Path, dirty)
		}
		return nil
	})
}

func runFolderIndex(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		// Run synchronously here instead of through the service's job
		// tracking; the CLI user wants the result.
		if _, err := eng.indexer.IndexFolder(ctx, args[0]); err != nil {
			return err
		}
		folder, err := eng.svc.GetFolder(ctx, service.FolderIDParams{FolderID: args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %s: version %d, %d files, %d bytes\n",
			folder.Name, folder.Version, folder.FileCount, folder.TotalSize)
		return nil
	})
}

func runFolderRemove(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		if _, err := eng.svc.RemoveFolder(ctx, service.FolderIDParams{FolderID: args[0]}); err != nil {
			return err
		}
		fmt.Println("Folder removed.")
		return nil
	})
}
