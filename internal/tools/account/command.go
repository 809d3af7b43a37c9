package account

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/sandeepkv93/gov-coordination-portal/internal/config"
	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
	"github.com/sandeepkv93/gov-coordination-portal/internal/repository"
	"github.com/sandeepkv93/gov-coordination-portal/internal/service"
	"github.com/sandeepkv93/gov-coordination-portal/internal/storage"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
)

func NewCommand(opts *common.Options) *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Account administration"}
	cmd.AddCommand(
		newProvisionCommand(opts),
		newImportCommand(opts),
		newUnlockCommand(opts),
		newSetPasswordCommand(opts),
		newListCommand(opts),
	)
	return cmd
}

func newProvisionCommand(opts *common.Options) *cobra.Command {
	var in service.ProvisionInput
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a Pending account with a temporary password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(opts, "account provision", func(ctx context.Context, svc *service.AccountAdminService) ([]string, error) {
				res, err := svc.Provision(ctx, in)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("account id: %d", res.Account.ID),
					"username: " + res.Account.Username,
					"email: " + res.Account.Email,
					"temporary password: " + res.TemporaryPassword,
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Role, "role", "", "role name")
	cmd.Flags().StringVar(&in.ProfileImage, "profile-image", "", "profile image URL or object key")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newImportCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Provision accounts from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withAdmin(opts, "account import", func(ctx context.Context, svc *service.AccountAdminService) ([]string, error) {
				f, err := os.Open(path)
				if err != nil {
					return nil, err
				}
				defer f.Close()

				report, err := svc.Import(ctx, f, filepath.Dir(path))
				if report == nil {
					return nil, err
				}
				return importDetails(report), err
			})
		},
	}
}

func importDetails(report *service.ImportReport) []string {
	details := []string{fmt.Sprintf("created: %d, skipped: %d", len(report.Created), len(report.Skipped))}
	for _, c := range report.Created {
		details = append(details, fmt.Sprintf("created %s <%s> temporary password: %s", c.Account.Username, c.Account.Email, c.TemporaryPassword))
	}
	for _, s := range report.Skipped {
		details = append(details, fmt.Sprintf("skipped %s <%s>: %s", s.Username, s.Email, s.Reason))
	}
	return details
}

func newUnlockCommand(opts *common.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock USERNAME|EMAIL",
		Short: "Return a Locked account to Offline and reset its failure counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(opts, "account unlock", func(ctx context.Context, svc *service.AccountAdminService) ([]string, error) {
				account, err := svc.Unlock(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("unlocked %s (id %d), status %s", account.Username, account.ID, account.Status)}, nil
			})
		},
	}
}

func newSetPasswordCommand(opts *common.Options) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "set-password USERNAME|EMAIL",
		Short: "Replace an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				password string
				err      error
			)
			if fromStdin {
				password, err = readPasswordLine(cmd.InOrStdin())
			} else {
				password, err = promptPassword(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			return withAdmin(opts, "account set-password", func(ctx context.Context, svc *service.AccountAdminService) ([]string, error) {
				if err := svc.SetPassword(ctx, args[0], password); err != nil {
					return nil, err
				}
				return []string{"password updated for " + args[0]}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from the first line of stdin")
	return cmd
}

func newListCommand(opts *common.Options) *cobra.Command {
	var (
		status string
		search string
		page   repository.PageRequest
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := repository.AccountFilter{Status: domain.AccountStatus(status), Search: search}
			if status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withAdmin(opts, "account list", func(ctx context.Context, svc *service.AccountAdminService) ([]string, error) {
				res, err := svc.List(ctx, filter, page)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("page %d of %d, %d account(s)", res.Page, res.TotalPages, res.Total)}
				for _, a := range res.Items {
					details = append(details, fmt.Sprintf("%d %s <%s> %s attempts=%d", a.ID, a.Username, a.Email, a.Status, a.LoginAttempts))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (Offline, Active, Pending, Locked)")
	cmd.Flags().StringVar(&search, "search", "", "match username or email")
	cmd.Flags().IntVar(&page.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&page.PageSize, "limit", repository.DefaultPageSize, "page size")
	return cmd
}

func withAdmin(opts *common.Options, title string, fn func(context.Context, *service.AccountAdminService) ([]string, error)) error {
	return common.Execute(opts, title, func(ctx context.Context) ([]string, error) {
		cfg, db, err := common.LoadConfigDB(opts.EnvFile)
		if err != nil {
			return nil, err
		}
		defer common.CloseDB(db)

		svc, err := newAdminService(cfg, db)
		if err != nil {
			return nil, err
		}
		return fn(ctx, svc)
	})
}

func newAdminService(cfg *config.Config, db *gorm.DB) (*service.AccountAdminService, error) {
	var images storage.ProfileImageStore = storage.PassthroughProfileImageStore{}
	if cfg.StorageEnabled {
		store, err := storage.NewMinIOProfileImageStore(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey,
			cfg.StorageBucket, cfg.StorageUseSSL, cfg.StoragePresignedTTL)
		if err != nil {
			return nil, err
		}
		images = store
	}
	return service.NewAccountAdminService(
		repository.NewAccountRepository(db),
		repository.NewRoleRepository(db),
		images,
		observability.NewBootstrapLogger(cfg),
		cfg.ProvisionTempPasswordLen,
	), nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on stdin")
	}
	return password, nil
}

func promptPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, use --password-stdin")
	}
	fmt.Fprint(prompt, "New password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Fprint(prompt, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
