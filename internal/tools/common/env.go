package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/gov-coordination-portal/internal/config"
	"github.com/sandeepkv93/gov-coordination-portal/internal/database"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/ui"
)

// ErrCommandFailed is returned after the failure has already been reported, so
// callers only need to set the exit code.
var ErrCommandFailed = errors.New("command failed")

type Options struct {
	EnvFile string
	Timeout time.Duration
	CI      bool
}

func BindFlags(cmd *cobra.Command, opts *Options) {
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.CI, "ci", false, "non-interactive machine-readable output")
}

// Execute runs fn under the configured timeout, either behind the interactive
// status view or with a JSON result on stdout.
func Execute(opts *Options, title string, fn func(context.Context) ([]string, error)) error {
	start := time.Now()
	var err error
	if opts.CI {
		var details []string
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		details, err = fn(ctx)
		cancel()
		_ = WriteCIResult(os.Stdout, NewCIResult(title, details, time.Since(start), err))
	} else {
		_, err = ui.Run(title, opts.Timeout, fn)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordToolCommandRun(context.Background(), "portalctl", title, outcome)
	observability.RecordToolCommandDuration(context.Background(), "portalctl", title, time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCommandFailed, title)
	}
	return nil
}

func LoadConfig(envFile string) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return config.Load()
}

// LoadConfigDB loads configuration and opens the database. The caller closes
// the pool with CloseDB.
func LoadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func CloseDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
