package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/lockbox/internal/config"
	"github.com/systmms/lockbox/pkg/broker"
	"github.com/systmms/lockbox/pkg/secrettype"
)

// NewVaultCommand creates the parent 'vault' command.
func NewVaultCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage extension vault registrations",
		Long: `Register, unregister, and list extension vaults.

A vault's connection parameters are stored in the encrypted local store,
never in the registry file, because they may themselves be secrets.

Examples:
  lockbox vault register remote1 --locator script:/etc/lockbox/remote1.yaml --param endpoint=https://kv.example.com
  lockbox vault register remote1 --locator compiled:memory --default
  lockbox vault list
  lockbox vault unregister remote1`,
	}

	cmd.AddCommand(
		newVaultRegisterCommand(cfg),
		newVaultUnregisterCommand(cfg),
		newVaultListCommand(cfg),
	)
	return cmd
}

func newVaultRegisterCommand(cfg *config.Config) *cobra.Command {
	var (
		locator     string
		params      []string
		makeDefault bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register an extension vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}

			parameters := make(map[string]secrettype.Value, len(params))
			for _, p := range params {
				k, v, err := splitParam(p)
				if err != nil {
					return err
				}
				parameters[k] = secrettype.NewSecureStringFromString(v)
			}

			return b.RegisterVault(cmd.Context(), broker.RegisterVaultOptions{
				Name:        args[0],
				Locator:     locator,
				Parameters:  parameters,
				MakeDefault: makeDefault,
				Force:       force,
			})
		},
	}

	cmd.Flags().StringVar(&locator, "locator", "", "Implementation locator (compiled:<type> or script:<manifest>)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Vault parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&makeDefault, "default", false, "Route operations with no vault name here")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing registration under this name")
	_ = cmd.MarkFlagRequired("locator")
	return cmd
}

func newVaultUnregisterCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <name>",
		Short: "Remove a vault registration and purge its parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			return b.UnregisterVault(cmd.Context(), args[0])
		},
	}
}

func newVaultListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in vault and every registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBroker(cfg)
			if err != nil {
				return err
			}
			for _, info := range b.ListVaults() {
				marker := " "
				if info.IsDefault {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, info.Name, info.Locator)
			}
			return nil
		},
	}
}

func splitParam(p string) (string, string, error) {
	for i := 0; i < len(p); i++ {
		if p[i] == '=' {
			if i == 0 {
				break
			}
			return p[:i], p[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("parameter %q is not key=value", p)
}
