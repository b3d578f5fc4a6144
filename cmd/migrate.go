package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/crud6/crud6/internal/migrate"
	"github.com/crud6/crud6/internal/tracker"
	"github.com/crud6/crud6/internal/util"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Synchronize the database schema with the model schemas",
	Long:  "Creates missing tables, indexes and pivot tables and adds missing columns. Nothing is dropped unless --drop is passed.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		logger := newLogger(cmd)
		defer util.RecoverPanic(logger)

		dryRun := mustFlagBool(cmd, "dry-run", false)
		drop := mustFlagBool(cmd, "drop", false)
		confirmed := mustFlagBool(cmd, "confirm", false)

		if drop && !dryRun && !confirmed {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewNote().
						Title("\n🚨 WARNING 🚨"),
					huh.NewConfirm().
						Title("THIS WILL DROP COLUMNS THE SCHEMAS NO LONGER DECLARE").
						Affirmative("Confirm").
						Negative("Cancel").
						Value(&confirmed),
				),
			)
			custom := huh.ThemeBase()
			form.WithTheme(custom)
			if err := form.Run(); err != nil {
				if !errors.Is(err, huh.ErrUserAborted) {
					logger.Error("error running form: %s", err)
					logger.Info("You may use --confirm to skip this prompt")
					os.Exit(1)
				}
			}
			if !confirmed {
				os.Exit(0)
			}
		}

		reg := loadRegistry(logger, cmd)
		db := connectStore(ctx, logger, cmd)
		defer db.Close()

		opts := migrate.Options{
			Logger:      logger,
			Registry:    reg,
			Store:       db,
			URL:         mustFlagString(cmd, "url", true),
			DryRun:      dryRun,
			Force:       mustFlagBool(cmd, "force", false),
			Drop:        drop,
			Concurrency: mustFlagInt(cmd, "concurrency", false),
		}

		if stateDir := mustFlagString(cmd, "state-dir", false); stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				logger.Error("error creating %s: %s", stateDir, err)
				os.Exit(3)
			}
			tr, err := tracker.NewTracker(tracker.TrackerConfig{Context: ctx, Logger: logger, Dir: stateDir})
			if err != nil {
				logger.Error("error opening state tracker: %s", err)
				os.Exit(3)
			}
			defer tr.Close()
			opts.Tracker = tr
		}

		res, err := migrate.Run(ctx, opts)
		if err != nil {
			logger.Error("migration failed: %s", err)
			os.Exit(1)
		}
		printMigrateResult(res, drop, dryRun)
	},
}

func printMigrateResult(res *migrate.Result, drop bool, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	black := color.New(color.FgBlack).SprintFunc()
	fmt.Println()
	hasExtra := false
	for _, table := range res.Tables {
		switch {
		case table.Created:
			fmt.Printf("%-30s%s\n", table.Model, green("created "+table.Table))
		case table.Skipped:
			fmt.Printf("%-30s%s\n", table.Model, black("unchanged"))
		default:
			var parts []string
			if len(table.Added) > 0 {
				parts = append(parts, cyan("added "+strings.Join(table.Added, ", ")))
			}
			if len(table.Dropped) > 0 {
				parts = append(parts, red("dropped "+strings.Join(table.Dropped, ", ")))
			}
			if len(table.Extra) > 0 {
				hasExtra = true
				parts = append(parts, yellow("extra columns "+strings.Join(table.Extra, ", ")))
			}
			if len(parts) == 0 {
				fmt.Printf("%-30s%s\n", table.Model, black("up to date"))
				continue
			}
			fmt.Printf("%-30s%s\n", table.Model, strings.Join(parts, ", "))
		}
	}
	if len(res.Pivots) > 0 {
		fmt.Printf("%-30s%s\n", "pivot tables", green(strings.Join(res.Pivots, ", ")))
	}
	fmt.Println()
	if dryRun {
		fmt.Println(black(fmt.Sprintf("%d statements (dry-run, nothing executed)", res.Statements)))
	} else {
		fmt.Println(black(fmt.Sprintf("%d statements executed", res.Statements)))
	}
	if hasExtra && !drop {
		fmt.Println(black("Run again with --drop to remove the extra columns."))
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("url", "", "database connection string")
	migrateCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	migrateCmd.Flags().Bool("dry-run", false, "print the statements without executing them")
	migrateCmd.Flags().Bool("drop", false, "drop live columns the schemas no longer declare")
	migrateCmd.Flags().Bool("force", false, "migrate even when the tracked fingerprint is current")
	migrateCmd.Flags().Bool("confirm", false, "skip the confirmation prompt")
	migrateCmd.Flags().Int("concurrency", 4, "number of models to migrate in parallel")
	migrateCmd.Flags().String("state-dir", "", "directory for the fingerprint tracker database, lets unchanged models skip introspection")
}
