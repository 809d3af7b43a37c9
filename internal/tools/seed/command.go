package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/gov-coordination-portal/internal/database"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
)

func NewCommand(opts *common.Options) *cobra.Command {
	cmd := &cobra.Command{Use: "seed", Short: "Reference data tooling"}
	cmd.AddCommand(newRolesCommand(opts))
	return cmd
}

func newRolesCommand(opts *common.Options) *cobra.Command {
	var (
		roles  []string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Ensure the portal roles exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			title := "seed roles"
			if dryRun {
				title = "seed roles (dry-run)"
			}
			return common.Execute(opts, title, func(ctx context.Context) ([]string, error) {
				cfg, db, err := common.LoadConfigDB(opts.EnvFile)
				if err != nil {
					return nil, err
				}
				defer common.CloseDB(db)

				names := roles
				if len(names) == 0 {
					names = cfg.BootstrapRoles
				}
				if dryRun {
					return []string{"would ensure roles: " + strings.Join(names, ", "), "no mutation executed in dry-run mode"}, nil
				}
				report, err := database.SeedRoles(db.WithContext(ctx), names)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("created roles: %d", report.CreatedRoles),
					fmt.Sprintf("existing roles: %d", report.ExistingRoles),
				}, nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role name to ensure (repeatable, defaults to BOOTSTRAP_ROLES)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be created")
	return cmd
}
