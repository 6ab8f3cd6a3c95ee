package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/lbph"
	"github.com/andresmejia3/facegate/internal/modelstore"
	"github.com/andresmejia3/facegate/internal/utils"
)

var (
	modelKey    string
	modelShared bool
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Back up or restore the trained model in S3-compatible storage",
}

var modelPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local model file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runModelPush(cmd.Context())
	},
}

var modelPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the model file, replacing the local one",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runModelPull(cmd.Context())
	},
}

func init() {
	modelCmd.PersistentFlags().StringVar(&modelKey, "key", "", "Object key (default: models/<device>/<model file name>)")
	modelCmd.PersistentFlags().BoolVar(&modelShared, "shared", false, "Use the fleet-wide key models/<model file name>")
	modelCmd.AddCommand(modelPushCmd, modelPullCmd)
	rootCmd.AddCommand(modelCmd)
}

func objectKey() string {
	switch {
	case modelKey != "":
		return modelKey
	case modelShared:
		return modelstore.Key("", Cfg.Model.Path)
	default:
		return modelstore.Key(Cfg.MQTT.Device, Cfg.Model.Path)
	}
}

func openModelStore() *modelstore.Store {
	s, err := modelstore.New(Cfg.Storage)
	if err != nil {
		utils.Die("Model storage unavailable (set FACEGATE_S3_ENDPOINT and FACEGATE_S3_BUCKET)", err, nil)
	}
	return s
}

func runModelPush(ctx context.Context) {
	if _, err := os.Stat(Cfg.Model.Path); err != nil {
		utils.Die("No trained model to push", err, nil)
	}
	key := objectKey()
	size, err := openModelStore().Push(ctx, key, Cfg.Model.Path)
	if err != nil {
		utils.Die("Failed to push model", err, nil)
	}
	fmt.Printf("☁️  Pushed %s to %s/%s (%d bytes)\n", Cfg.Model.Path, Cfg.Storage.Bucket, key, size)
}

// loadableModel refuses a file the session could not load.
func loadableModel(path string) error {
	_, err := lbph.Load(path, Cfg.Model.IndexMin)
	return err
}

func runModelPull(ctx context.Context) {
	key := objectKey()
	if err := openModelStore().Pull(ctx, key, Cfg.Model.Path, loadableModel); err != nil {
		utils.Die("Failed to pull model", err, nil)
	}

	clf := newClassifier(Cfg)
	if err := clf.Reload(); err != nil {
		utils.Die("Pulled model is not loadable", err, nil)
	}
	fmt.Printf("✅ Pulled %s/%s to %s (%d labels)\n", Cfg.Storage.Bucket, key, Cfg.Model.Path, len(clf.Counts()))
}
