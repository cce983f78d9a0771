// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/canonical/membership-service/migrations"
)

// migration is a parsed `migrate` invocation, target is -1 for a single step down.
type migration struct {
	action string
	target int64
}

func parseMigration(args []string) (migration, error) {
	m := migration{action: "up", target: -1}
	if len(args) == 0 {
		return m, nil
	}
	if len(args) > 2 {
		return m, fmt.Errorf("accepts at most 2 args, received %d", len(args))
	}

	switch args[0] {
	case "up", "down", "status", "check":
		m.action = args[0]
	default:
		return m, fmt.Errorf("unknown migration action %q", args[0])
	}

	if len(args) == 2 {
		if m.action != "down" {
			return m, fmt.Errorf("a target version is only accepted by down")
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || v < 0 {
			return m, fmt.Errorf("invalid target version %q", args[1])
		}
		m.target = v
	}

	return m, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down [version]|status|check]",
	Short: "Run database migrations",
	Long:  `Apply, roll back or inspect the membership schema. Without arguments pending migrations are applied.`,
	Args: func(cmd *cobra.Command, args []string) error {
		_, err := parseMigration(args)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _ := parseMigration(args)

		dsn, _ := cmd.Flags().GetString("dsn")
		if dsn == "" {
			dsn = os.Getenv("DSN")
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		return runMigration(cmd.Context(), cmd.OutOrStdout(), dsn, m, asJSON)
	},
}

func init() {
	migrateCmd.Flags().String("dsn", "", "PostgreSQL DSN connection string, defaults to $DSN")
	migrateCmd.Flags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(migrateCmd)
}

func runMigration(ctx context.Context, out io.Writer, dsn string, m migration, asJSON bool) error {
	if dsn == "" {
		return fmt.Errorf("a DSN is required, pass --dsn or set DSN")
	}

	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	db := stdlib.OpenDB(*config)
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database is unreachable: %w", err)
	}

	var opts []goose.ProviderOption
	if asJSON {
		opts = append(opts, goose.WithLogger(goose.NopLogger()))
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.EmbedMigrations, opts...)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	p := migrationPrinter{out: out, json: asJSON}

	switch m.action {
	case "down":
		if m.target < 0 {
			result, err := provider.Down(ctx)
			if err != nil {
				return err
			}
			return p.results([]*goose.MigrationResult{result})
		}
		results, err := provider.DownTo(ctx, m.target)
		if err != nil {
			return err
		}
		return p.results(results)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		return p.statuses(statuses)
	case "check":
		pending, err := provider.HasPending(ctx)
		if err != nil {
			return fmt.Errorf("failed to check pending migrations: %w", err)
		}
		current, err := provider.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		return p.check(pending, current)
	default:
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		return p.results(results)
	}
}

type migrationPrinter struct {
	out  io.Writer
	json bool
}

func (p migrationPrinter) encode(v any) error {
	return json.NewEncoder(p.out).Encode(v)
}

func (p migrationPrinter) results(results []*goose.MigrationResult) error {
	if results == nil {
		results = []*goose.MigrationResult{}
	}
	if p.json {
		return p.encode(map[string]any{"applied": results})
	}

	if len(results) == 0 {
		fmt.Fprintln(p.out, "No migrations to run")
	}
	for _, r := range results {
		fmt.Fprintf(p.out, "%-6s %s (%s)\n", r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
	return nil
}

func (p migrationPrinter) statuses(statuses []*goose.MigrationStatus) error {
	if p.json {
		return p.encode(statuses)
	}

	fmt.Fprintf(p.out, "%-26s %s\n", "APPLIED AT", "MIGRATION")
	for _, s := range statuses {
		appliedAt := "pending"
		if s.State == goose.StateApplied {
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(p.out, "%-26s %s\n", appliedAt, s.Source.Path)
	}
	return nil
}

// check fails with pending migrations so deploy pipelines can gate on the exit code.
func (p migrationPrinter) check(pending bool, current int64) error {
	state := "ok"
	if pending {
		state = "pending"
	}

	if p.json {
		if err := p.encode(map[string]any{"status": state, "version": current}); err != nil {
			return err
		}
	} else if !pending {
		fmt.Fprintf(p.out, "Schema is up to date (version %d)\n", current)
	}

	if pending {
		return fmt.Errorf("migrations are pending: current version %d", current)
	}
	return nil
}
