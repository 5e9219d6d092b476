package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/weird/pkg/weird"
)

const modulePath = "github.com/mesh-intelligence/weird"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the weird version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "weird v%s\nmodule: %s\n", weird.Version, modulePath)
			return nil
		},
	}
}
