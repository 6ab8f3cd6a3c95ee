package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/utils"
)

var (
	resetDB        bool
	resetModel     bool
	resetSnapshots bool
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset appliance state (Directory, Model, Snapshots)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetModel && !resetSnapshots {
			resetDB = true
			resetModel = true
			resetSnapshots = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to delete every name in the identity directory?") {
				fmt.Println("🗑️  Clearing Directory...")
				db := openDirectory(cmd.Context())
				err := db.Reset(cmd.Context())
				db.Close()
				if err != nil {
					utils.Die("Failed to reset directory", err, nil)
				}
			}
		}

		if resetModel {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete the trained model %s?", Cfg.Model.Path)) {
				fmt.Println("🗑️  Removing Model...")
				removeFile(Cfg.Model.Path)
			}
		}

		if resetSnapshots && Cfg.Session.SnapshotDir != "" {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all snapshots in %s?", Cfg.Session.SnapshotDir)) {
				fmt.Println("🗑️  Clearing Snapshots...")
				removeDir(Cfg.Session.SnapshotDir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "directory", false, "Clear the identity directory")
	resetCmd.Flags().BoolVar(&resetModel, "model-file", false, "Delete the trained model file")
	resetCmd.Flags().BoolVar(&resetSnapshots, "snapshots", false, "Clear recognition snapshots")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
