package portalctl

import (
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/account"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/migrate"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/seed"
)

func NewRootCommand() *cobra.Command {
	opts := &common.Options{}
	cmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operator tooling for the coordination portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	common.BindFlags(cmd, opts)
	cmd.AddCommand(
		migrate.NewCommand(opts),
		seed.NewCommand(opts),
		account.NewCommand(opts),
	)
	return cmd
}
