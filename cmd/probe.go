package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/source"
	"github.com/andresmejia3/facegate/internal/utils"
)

var (
	probeSrc      SourceOptions
	probeDuration time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open the frame source and report which backend won, frame size and FPS",
	Run: func(cmd *cobra.Command, args []string) {
		applySourceFlags(cmd, &Cfg, probeSrc)
		runProbe(cmd.Context(), probeDuration)
	},
}

func init() {
	addSourceFlags(probeCmd, &probeSrc)
	probeCmd.Flags().DurationVarP(&probeDuration, "duration", "d", 3*time.Second, "How long to measure")
	rootCmd.AddCommand(probeCmd)
}

// ProbeResult summarizes a measurement.
type ProbeResult struct {
	Descriptor string
	Kind       source.Kind
	Size       image.Point
	Frames     int
	Misses     int
	Elapsed    time.Duration
}

// FPS is frames per second over the measured window.
func (r ProbeResult) FPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

func runProbe(ctx context.Context, d time.Duration) {
	src := newSource(Cfg)
	fmt.Fprintf(os.Stderr, "🔌 Probing primary %q, fallback %q...\n", Cfg.Source.Primary, Cfg.Source.Fallback)
	if err := src.Open(ctx); err != nil {
		utils.Die("No frame source reachable", err, nil)
	}
	defer src.Close()

	res := measure(ctx, src, d)
	fmt.Printf("Source:  %s (%s)\n", res.Descriptor, res.Kind)
	fmt.Printf("Size:    %dx%d\n", res.Size.X, res.Size.Y)
	fmt.Printf("Frames:  %d in %s (%d empty polls)\n", res.Frames, res.Elapsed.Round(time.Millisecond), res.Misses)
	fmt.Printf("FPS:     %.1f\n", res.FPS())
}

type frameReader interface {
	Read() (image.Image, bool)
	Active() string
}

// measure polls src for d. Reads drain the source, so every successful
// read is a new frame.
func measure(ctx context.Context, src frameReader, d time.Duration) ProbeResult {
	res := ProbeResult{Descriptor: src.Active(), Kind: source.Classify(src.Active())}
	start := time.Now()
	for time.Since(start) < d && ctx.Err() == nil {
		frame, ok := src.Read()
		if !ok {
			res.Misses++
			continue
		}
		res.Frames++
		res.Size = frame.Bounds().Size()
	}
	res.Elapsed = time.Since(start)
	return res
}
