package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/bpfmetrics/internal/migrate"
)

func migrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse counters schema",
	}

	cmd.PersistentFlags().StringVar(
		&dsn, "dsn", "",
		"ClickHouse DSN, e.g. clickhouse://localhost:9000/default (required)",
	)

	if err := cmd.MarkPersistentFlagRequired("dsn"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	newMigrator := func() (migrate.Migrator, error) {
		log, err := newLogger("")
		if err != nil {
			return nil, err
		}

		return migrate.New(log, dsn), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current migration version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				v, dirty, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				latest, err := migrate.Versions()
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(),
					"version %d (dirty=%t), latest embedded %d\n",
					v, dirty, latest[len(latest)-1],
				)

				return nil
			},
		},
	)

	return cmd
}
