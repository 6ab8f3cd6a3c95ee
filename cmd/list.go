package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/directory"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known users and their trained sample counts",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	names := make(map[int]string)
	for _, e := range directory.LoadDSN(ctx, Cfg.Directory.DSN).Entries() {
		names[e.Label] = e.Name
	}

	clf := newClassifier(Cfg)
	clf.Init()
	counts := clf.Counts()

	if len(names) == 0 && len(counts) == 0 {
		fmt.Println("No users found in the directory or the model.")
		return
	}
	writeUsers(os.Stdout, names, counts)
}

// writeUsers prints every label known to either the directory or the model.
func writeUsers(out io.Writer, names map[int]string, counts map[int]int) {
	labels := make([]int, 0, len(names)+len(counts))
	for l := range names {
		labels = append(labels, l)
	}
	for l := range counts {
		if _, ok := names[l]; !ok {
			labels = append(labels, l)
		}
	}
	sort.Ints(labels)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tNAME\tSAMPLES")
	fmt.Fprintln(w, "-----\t----\t-------")

	for _, l := range labels {
		name, ok := names[l]
		if !ok {
			name = directory.DefaultName(l) + " (unnamed)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", l, name, counts[l])
	}
	w.Flush()
}
