package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/classifier"
	"github.com/andresmejia3/facegate/internal/session"
	"github.com/andresmejia3/facegate/internal/utils"
)

// EnrollOptions controls a batch enrollment.
type EnrollOptions struct {
	Labels   []int
	Count    int
	Interval time.Duration
	Attempts int
	Train    bool
	Prompt   bool
}

var (
	enrollSrc  SourceOptions
	enrollOpts EnrollOptions
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture face samples for one or more users and optionally train",
	Long: `Captures --count samples for each label in turn, retrying frames where no
face is found, then trains the model on everything captured in this run.
Training replaces the previous model, so enroll every user in one run.`,
	Example: `  facegate enroll --labels 1,2,3 --count 20 --train`,
	Run: func(cmd *cobra.Command, args []string) {
		applySourceFlags(cmd, &Cfg, enrollSrc)
		if len(enrollOpts.Labels) == 0 {
			enrollOpts.Labels = []int{Cfg.Session.DefaultLabel}
		}
		runEnroll(cmd.Context(), enrollOpts)
	},
}

func init() {
	addSourceFlags(enrollCmd, &enrollSrc)
	enrollCmd.Flags().IntSliceVarP(&enrollOpts.Labels, "labels", "l", nil, "Labels to enroll, in order (default: session.default_label)")
	enrollCmd.Flags().IntVarP(&enrollOpts.Count, "count", "n", 20, "Samples to capture per label")
	enrollCmd.Flags().DurationVar(&enrollOpts.Interval, "interval", 200*time.Millisecond, "Pause between captures")
	enrollCmd.Flags().IntVar(&enrollOpts.Attempts, "attempts", 0, "Give up on a label after this many failed frames (default: 10x count)")
	enrollCmd.Flags().BoolVar(&enrollOpts.Train, "train", false, "Train and save the model after capturing")
	enrollCmd.Flags().BoolVar(&enrollOpts.Prompt, "prompt", true, "Wait for Enter before each label")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, opts EnrollOptions) {
	if opts.Count < 1 {
		utils.Die("Invalid sample count", fmt.Errorf("--count must be at least 1, got %d", opts.Count), nil)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = opts.Count * 10
	}

	ctrl := newController(Cfg, nil, nil)
	if err := ctrl.Initialize(ctx); err != nil {
		utils.Die(fmt.Sprintf("Session initialization failed (%s)", session.CodeOf(err)), err, nil)
	}
	defer ctrl.Exit()

	reader := bufio.NewReader(os.Stdin)
	for _, label := range opts.Labels {
		if err := ctrl.SelectUser(label); err != nil {
			utils.Die("Invalid label", err, nil)
		}
		if opts.Prompt {
			fmt.Fprintf(os.Stderr, "👤 Position user %d (%s) in front of the camera and press Enter...", label, ctrl.State().CurrentName)
			reader.ReadString('\n')
		}

		captured, err := enrollLabel(ctx, ctrl, label, opts)
		if err != nil {
			ctrl.Exit()
			utils.Die(fmt.Sprintf("Enrollment of user %d failed", label), err, nil)
		}
		fmt.Fprintf(os.Stderr, "✅ User %d: %d samples\n", label, captured)
	}

	if !opts.Train {
		fmt.Fprintf(os.Stderr, "ℹ️  %d samples captured; run with --train to build the model.\n", ctrl.State().SampleCount)
		return
	}

	fmt.Fprintf(os.Stderr, "🧠 Training on %d samples...\n", ctrl.State().SampleCount)
	err := ctrl.TrainModel()
	var persistErr *classifier.PersistError
	switch {
	case err == nil:
		fmt.Fprintf(os.Stderr, "✅ Model saved to %s\n", Cfg.Model.Path)
	case errors.As(err, &persistErr):
		ctrl.Exit()
		utils.Die("Model trained but could not be saved", err, nil)
	default:
		ctrl.Exit()
		utils.Die(fmt.Sprintf("Training failed (%s)", session.CodeOf(err)), err, nil)
	}
}

// enrollLabel captures opts.Count samples for the selected label.
func enrollLabel(ctx context.Context, ctrl *session.Controller, label int, opts EnrollOptions) (int, error) {
	bar := progressbar.NewOptions(opts.Count,
		progressbar.OptionSetDescription(fmt.Sprintf("📸 Enrolling user %d", label)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	captured, failures := 0, 0
	for captured < opts.Count {
		if err := ctx.Err(); err != nil {
			return captured, err
		}
		err := ctrl.CaptureSample()
		switch {
		case err == nil:
			captured++
			bar.Add(1)
		case errors.Is(err, session.ErrNoFace), errors.Is(err, session.ErrNoFrame):
			failures++
			if failures >= opts.Attempts {
				return captured, fmt.Errorf("no usable face after %d attempts: %w", failures, err)
			}
		default:
			return captured, err
		}

		select {
		case <-ctx.Done():
		case <-time.After(opts.Interval):
		}
	}
	return captured, nil
}
