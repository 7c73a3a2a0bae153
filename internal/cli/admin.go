package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zoneplane/internal/db"
	"zoneplane/internal/export"
	"zoneplane/internal/notify"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Open applies the schema.
			store, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date in %s\n", cfg.DBPath)
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <destination>",
		Short: "Write a consistent copy of the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			store, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", args[0])
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var format, out, actor, company string
	cmd := &cobra.Command{
		Use:       "export <" + strings.Join(export.Datasets, "|") + ">",
		Short:     "Export a dataset of one company as CSV or XLSX",
		Args:      cobra.ExactArgs(1),
		ValidArgs: export.Datasets,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			coord, store, err := newCoordinator(cfg, notify.Discard{}, nil, newLogger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			table, err := export.Build(cmd.Context(), coord, args[0], actor, company)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				return export.Write(cmd.OutOrStdout(), f, table)
			}
			file, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := export.Write(file, f, table); err != nil {
				file.Close()
				return err
			}
			return file.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&actor, "actor", "", "acting user")
	cmd.Flags().StringVar(&company, "company", "", "company to export")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}
