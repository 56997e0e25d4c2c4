// Command keyctl inspects and edits the credential pools of a gitscout
// deployment. It reads the same GITSCOUT_* environment as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/gitscout/internal/adapter/driven/credstore"
	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/config"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

// backend is the credential store a command operates on plus the secrets
// that seed it when nothing is persisted yet.
type backend struct {
	store     driven.CredentialStore
	bootstrap map[string]string
	close     func() error
}

type openFunc func(ctx context.Context, logger *slog.Logger) (*backend, error)

func openFromEnv(ctx context.Context, logger *slog.Logger) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := credstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &backend{store: store, bootstrap: cfg.BootstrapSecrets(), close: closeStore}, nil
}

func newRootCmd(open openFunc) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage gitscout credential pools",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store and keyring activity to stderr")

	// withKeyring loads the keyring for the duration of fn.
	withKeyring := func(cmd *cobra.Command, fn func(ctx context.Context, k *application.Keyring) error) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		ctx := cmd.Context()
		b, err := open(ctx, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := b.close(); err != nil {
				logger.Error("error closing credential store", "error", err)
			}
		}()

		k := application.NewKeyring(b.store, b.bootstrap, logger)
		if err := k.Load(ctx); err != nil {
			return err
		}
		return fn(ctx, k)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every credential with masked secrets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withKeyring(cmd, func(_ context.Context, k *application.Keyring) error {
					return printPools(cmd.OutOrStdout(), k)
				})
			},
		},
		newAddCmd(withKeyring),
		newSetActiveCmd("activate", true, withKeyring),
		newSetActiveCmd("deactivate", false, withKeyring),
	)

	return root
}

type keyringRunner func(cmd *cobra.Command, fn func(ctx context.Context, k *application.Keyring) error) error

func newAddCmd(withKeyring keyringRunner) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <service> <secret>",
		Short: "Add a credential to a service pool",
		Long: `Add a credential to a service pool. The credential starts active with
the service's full nominal capacity. Unknown services get a new pool.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyring(cmd, func(ctx context.Context, k *application.Keyring) error {
				cred, err := k.AddCredential(ctx, args[0], args[1], name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s (%s)\n", cred.Name, args[0], cred.MaskedSecret())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default {service}_credential_{n})")

	return cmd
}

func newSetActiveCmd(use string, active bool, withKeyring keyringRunner) *cobra.Command {
	short := "Return a credential to rotation"
	if !active {
		short = "Take a credential out of rotation"
	}

	return &cobra.Command{
		Use:   use + " <service> <name>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyring(cmd, func(ctx context.Context, k *application.Keyring) error {
				if err := k.SetActive(ctx, args[0], args[1], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s active=%t\n", args[0], args[1], active)
				return nil
			})
		},
	}
}

func printPools(out io.Writer, k *application.Keyring) error {
	state := k.Snapshot()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "SERVICE\tSTRATEGY\tNAME\tSECRET\tACTIVE\tREMAINING\tLAST USED")
	for _, pool := range state.Pools {
		for _, c := range pool.Credentials {
			lastUsed := "never"
			if c.LastUsedAt != nil {
				lastUsed = c.LastUsedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
				pool.Service, pool.Strategy, c.Name, c.MaskedSecret(), c.Active, c.Remaining, lastUsed)
		}
	}
	fmt.Fprintf(tw, "\nretry_on_quota=%t fallback_enabled=%t\n",
		state.Options.RetryOnExhaustion, state.Options.AnonymousFallback)

	return tw.Flush()
}
