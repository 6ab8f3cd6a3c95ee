package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/facegate/internal/classifier"
	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/lbph"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg config.Config

	cfgFile   string
	dbURL     string
	modelPath string
	logLevel  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Face enrollment and recognition for camera appliances",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Explicit flags win over file and environment.
		if dbURL != "" {
			Cfg.Directory.DSN = dbURL
		} else if os.Getenv("FACEGATE_DB") == "" {
			if dsn := postgresDSN(os.Getenv); dsn != "" {
				Cfg.Directory.DSN = dsn
			}
		}
		if modelPath != "" {
			Cfg.Model.Path = modelPath
		}
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}

		slog.SetDefault(newLogger(Cfg.Log, os.Stderr))
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Identity directory DSN: sqlite path, postgres:// or mysql:// (default: ./XL_URK_Database.db)")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "", "Trained model file (default: ./face_recognition_model.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// postgresDSN builds a connection string from the POSTGRES_* variables, or
// returns "" when POSTGRES_HOST is unset.
func postgresDSN(getenv func(string) string) string {
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newClassifier(cfg config.Config) *classifier.Session {
	params := lbph.Params{
		Radius:    cfg.Model.Radius,
		Neighbors: cfg.Model.Neighbors,
		GridX:     cfg.Model.GridX,
		GridY:     cfg.Model.GridY,
		Threshold: cfg.Model.RejectDistance,
		IndexMin:  cfg.Model.IndexMin,
	}
	return classifier.New(cfg.Model.Path, params, cfg.Model.AcceptBelow)
}
