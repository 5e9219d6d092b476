package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/weird/pkg/types"
)

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a new namespace secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := types.NewNamespaceSecret()
			if err != nil {
				return sysError("generate namespace secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newGenAuthorSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-author-secret",
		Short: "Print a new author secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := types.NewAuthorSecret()
			if err != nil {
				return sysError("generate author secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}
