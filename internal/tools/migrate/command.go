package migrate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/gov-coordination-portal/internal/database"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
)

func NewCommand(opts *common.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema tooling",
	}
	cmd.AddCommand(newUpCommand(opts), newStatusCommand(opts))
	return cmd
}

func newUpCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(opts, "migrate up", func(ctx context.Context) ([]string, error) {
				cfg, db, err := common.LoadConfigDB(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer common.CloseDB(db)

				if err := database.Migrate(db.WithContext(ctx)); err != nil {
					return nil, err
				}
				return []string{"schema migration applied", "driver: " + cfg.DatabaseDriver}, nil
			})
		},
	}
}

func newStatusCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which managed tables exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Execute(opts, "migrate status", func(ctx context.Context) ([]string, error) {
				_, db, err := common.LoadConfigDB(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer common.CloseDB(db)

				sqlDB, err := db.DB()
				if err != nil {
					return nil, err
				}
				if err := sqlDB.PingContext(ctx); err != nil {
					return nil, fmt.Errorf("db ping: %w", err)
				}
				tables, err := database.Status(db.WithContext(ctx))
				if err != nil {
					return nil, err
				}
				details := []string{"database reachable"}
				pending := 0
				for _, t := range tables {
					state := "present"
					if !t.Present {
						state = "missing"
						pending++
					}
					details = append(details, fmt.Sprintf("%s: %s", t.Table, state))
				}
				if pending > 0 {
					return details, fmt.Errorf("%d table(s) missing, run migrate up", pending)
				}
				return details, nil
			})
		},
	}
}
