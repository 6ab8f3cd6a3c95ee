package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <label> <name>",
	Short: "Assign a display name to an enrolled label",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		label, err := strconv.Atoi(args[0])
		if err != nil || label < 0 {
			utils.Die("Invalid label", fmt.Errorf("%q is not a non-negative integer", args[0]), nil)
		}
		name := strings.TrimSpace(args[1])
		if name == "" {
			utils.Die("Invalid name", fmt.Errorf("name must not be empty"), nil)
		}

		runLabel(cmd.Context(), label, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, label int, name string) {
	db := openDirectory(ctx)
	defer db.Close()

	if err := db.SetName(ctx, label, name); err != nil {
		utils.Die("Failed to label user", err, nil)
	}

	fmt.Printf("✅ User %d labeled as '%s'\n", label, name)
}
