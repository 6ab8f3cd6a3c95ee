package cmd

import (
	"context"
	"time"

	"github.com/andresmejia3/facegate/internal/directory"
	"github.com/andresmejia3/facegate/internal/utils"
)

// openDirectory connects to the configured identity directory, creating the
// table if needed, or exits. Only commands that write names use it.
func openDirectory(ctx context.Context) directory.Backend {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b, err := directory.Create(ctx, Cfg.Directory.DSN)
	if err != nil {
		utils.Die("Failed to open identity directory", err, nil)
	}
	return b
}
