package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/weird/pkg/types"
	"github.com/mesh-intelligence/weird/pkg/weird"
)

func newDBCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Export and import instance data",
	}
	cmd.AddCommand(newDBExportCmd(e), newDBImportCmd(e))
	return cmd
}

func newDBExportCmd(e *env) *cobra.Command {
	var raw bool
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump instance data as YAML",
		Long: `Dump instance data as YAML. The default format holds profiles, user ids,
usernames, and author secrets and is stable across versions. --raw dumps
every record of every namespace in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			var dump any
			if raw {
				dump, err = w.ExportDBRaw(cmd.Context())
			} else {
				dump, err = w.ExportDB(cmd.Context())
			}
			if err != nil {
				return sysError("export: %w", err)
			}
			data, err := yaml.Marshal(dump)
			if err != nil {
				return sysError("encode export: %w", err)
			}
			if err := writeOutput(cmd, out, data); err != nil {
				return sysError("write export: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "dump every record instead of the stable format")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newDBImportCmd(e *env) *cobra.Command {
	var raw bool
	var rescuePath string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace instance data with an export",
		Long: `Replace instance data with an export. Before anything changes, a raw
export of the current store is written to the rescue file; import it with
--raw to undo.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return userError("read import: %w", err)
			}
			if rescuePath == "" {
				rescuePath = filepath.Join(e.settings.DataDir,
					"rescue-"+time.Now().UTC().Format("20060102T150405Z")+".yaml")
			}

			w, err := e.openInstance(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			var rescue *weird.RawExport
			if raw {
				var dump weird.RawExport
				if err := yaml.Unmarshal(data, &dump); err != nil {
					return userError("parse raw export: %w", err)
				}
				rescue, err = w.ImportDBRaw(cmd.Context(), &dump)
			} else {
				var dump weird.ExportFormat
				if err := yaml.Unmarshal(data, &dump); err != nil {
					return userError("parse export: %w", err)
				}
				rescue, err = w.ImportDB(cmd.Context(), &dump)
			}
			if rescue != nil {
				if werr := writeRescue(rescuePath, rescue); werr != nil {
					return sysError("write rescue file: %w", errors.Join(werr, err))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "rescue export written to %s\n", rescuePath)
			}
			if err != nil {
				if errors.Is(err, types.ErrUnsupportedVersion) {
					return userError("%w", err)
				}
				return sysError("import: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "import a raw export")
	cmd.Flags().StringVar(&rescuePath, "rescue", "", "where to write the rescue export (default: data dir)")
	return cmd
}

func writeRescue(path string, rescue *weird.RawExport) error {
	data, err := yaml.Marshal(rescue)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}
