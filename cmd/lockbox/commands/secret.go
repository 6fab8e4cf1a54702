package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/lockbox/internal/config"
	"github.com/systmms/lockbox/pkg/broker"
)

// NewSecretCommand creates the parent 'secret' command.
func NewSecretCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Add, fetch, enumerate, and remove secrets",
		Long: `Work with secrets through the broker. With no --vault the operation
routes to the default vault, or to the built-in store if none is marked
default; 'secret list' with no --vault enumerates every vault.

Examples:
  lockbox secret set api-key "hello" --type securestring
  lockbox secret get api-key --reveal
  lockbox secret list 'ab*'
  lockbox secret remove api-key --vault remote1`,
	}

	cmd.AddCommand(
		newSecretSetCommand(cfg),
		newSecretGetCommand(cfg),
		newSecretListCommand(cfg),
		newSecretRemoveCommand(cfg),
	)
	return cmd
}

func newSecretSetCommand(cfg *config.Config) *cobra.Command {
	var (
		vaultName string
		typeTag   string
		username  string
		noClobber bool
	)

	cmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			value, err := parseValue(typeTag, args[1], username)
			if err != nil {
				return err
			}
			return b.AddSecret(cmd.Context(), vaultName, args[0], value, nil,
				broker.AddOptions{NoClobber: noClobber})
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "Target vault (default: the default vault)")
	cmd.Flags().StringVar(&typeTag, "type", "string", "Secret type: string, securestring, bytes, credential, map")
	cmd.Flags().StringVar(&username, "username", "", "Username for credential secrets")
	cmd.Flags().BoolVar(&noClobber, "no-clobber", false, "Fail instead of overwriting an existing secret")
	return cmd
}

func newSecretGetCommand(cfg *config.Config) *cobra.Command {
	var (
		vaultName string
		reveal    bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Retrieve a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			value, err := b.GetSecret(cmd.Context(), vaultName, args[0], nil)
			if err != nil {
				return err
			}
			out, err := renderValue(value, reveal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "Target vault (default: the default vault)")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print protected values in clear form")
	return cmd
}

func newSecretListCommand(cfg *config.Config) *cobra.Command {
	var vaultName string

	cmd := &cobra.Command{
		Use:   "list [filter]",
		Short: "Enumerate secret metadata, optionally filtered by glob",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			infos, err := b.GetSecretInfo(cmd.Context(), vaultName, filter, nil)
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-14s %s\n", info.Name, info.Type, info.Vault)
			}
			if err != nil {
				// Partial results above are real; the failures still matter.
				return fmt.Errorf("some vaults failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "Limit to one vault (default: every vault)")
	return cmd
}

func newSecretRemoveCommand(cfg *config.Config) *cobra.Command {
	var vaultName string

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			return b.RemoveSecret(cmd.Context(), vaultName, args[0], nil)
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "Target vault (default: the default vault)")
	return cmd
}
