package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/weird/internal/paths"
	"github.com/mesh-intelligence/weird/pkg/types"
)

func newInitCmd(e *env) *cobra.Command {
	var domain, backend string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and storage",
		Long: `Write config.yaml, generating a namespace secret when none is set, then
initialize the storage backend and print the TXT record other instances use
to find this one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, e, domain, backend)
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "domain this instance serves usernames for")
	cmd.Flags().StringVar(&backend, "backend", "", "storage backend: sqlite or badger")
	return cmd
}

func runInit(cmd *cobra.Command, e *env, domain, backend string) error {
	path := paths.ConfigFile(e.settings.ConfigDir)
	cfg, err := readConfigFile(path)
	if err != nil {
		return userError("%w", err)
	}

	if cfg.Backend == "" {
		cfg.Backend = e.settings.Backend
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if domain != "" {
		cfg.Domain = domain
	}
	if cfg.Domain == "" {
		cfg.Domain = e.settings.Domain
	}
	if cfg.Domain == "" {
		return userError("a domain is required: weird init --domain example.org")
	}
	if e.flags.dataDir != "" {
		cfg.DataDir = e.settings.DataDir
	}
	if cfg.NamespaceSecret == "" {
		cfg.NamespaceSecret = e.settings.NamespaceSecret
	}
	if cfg.NamespaceSecret == "" {
		secret, err := types.NewNamespaceSecret()
		if err != nil {
			return sysError("generate namespace secret: %w", err)
		}
		cfg.NamespaceSecret = secret.String()
	}
	if err := (types.Config{Backend: cfg.Backend, DataDir: e.settings.DataDir}).Validate(); err != nil {
		return userError("%w", err)
	}

	if err := writeConfigFile(path, cfg); err != nil {
		return sysError("write config: %w", err)
	}
	e.settings.Backend = cfg.Backend
	e.settings.Domain = cfg.Domain
	e.settings.NamespaceSecret = cfg.NamespaceSecret

	w, err := e.openInstance(cmd.Context())
	if err != nil {
		return err
	}
	defer w.Close()
	ticket, err := w.InstanceTicket(cmd.Context())
	if err != nil {
		return sysError("share instance namespace: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "weird initialized\nconfig: %s\ndata: %s\ninstance: %s\n", path, e.settings.DataDir, w.NamespaceID())
	fmt.Fprintf(out, "publish this TXT record:\ninstance.weird.%s. TXT %q\n", cfg.Domain, ticket.String())
	return nil
}
