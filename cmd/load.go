package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/crud6/crud6/internal/load"
	"github.com/crud6/crud6/internal/util"
	csys "github.com/shopmonkeyus/go-common/sys"
	"github.com/spf13/cobra"
)

func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk import NDJSON data files into the database",
	Long:  "Reads <model>.ndjson or <model>.ndjson.gz files from the data directory, validates every record against its schema and writes them as upserts, parents before the rows that reference them.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		defer util.RecoverPanic(logger)

		dryRun := mustFlagBool(cmd, "dry-run", false)
		confirmed := mustFlagBool(cmd, "confirm", false)
		dataDir := mustFlagString(cmd, "data-dir", true)

		if !dryRun && !confirmed {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewNote().
						Title("\n🚨 WARNING 🚨"),
					huh.NewConfirm().
						Title(fmt.Sprintf("LOADING %s WILL OVERWRITE ROWS THAT SHARE PRIMARY KEYS", dataDir)).
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

		started := time.Now()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			select {
			case <-ctx.Done():
				return
			case <-csys.CreateShutdownChannel():
				cancel()
				return
			}
		}()

		reg := loadRegistry(logger, cmd)
		db := connectStore(ctx, logger, cmd)
		defer db.Close()

		if dryRun {
			logger.Info("🚨 Dry run enabled")
		}

		only, _ := cmd.Flags().GetStringSlice("only")
		opts := load.Options{
			Logger:      logger,
			Registry:    reg,
			Store:       db,
			Dir:         dataDir,
			Only:        only,
			DryRun:      dryRun,
			SkipInvalid: mustFlagBool(cmd, "skip-invalid", false),
			Concurrency: mustFlagInt(cmd, "concurrency", false),
		}

		var res *load.Result
		var runErr error
		if dryRun {
			// the progress screen would swallow the logged statements
			res, runErr = load.Run(ctx, opts)
		} else {
			util.RunWithProgress(ctx, cancel, func(progressbar *util.ProgressBar) {
				progressbar.SetMessage("Loading data...")
				opts.Progress = progressbar
				res, runErr = load.Run(ctx, opts)
			})
		}
		if isCancelled(ctx) {
			return
		}
		if runErr != nil {
			logger.Error("load failed: %s", runErr)
			os.Exit(1)
		}
		if res.Skipped > 0 {
			logger.Warn("skipped %d invalid records", res.Skipped)
		}
		logger.Info("👋 Loaded %d rows from %d files in %v", res.Rows, len(res.Files), time.Since(started))
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().String("url", "", "database connection string")
	loadCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	loadCmd.Flags().String("data-dir", "./data", "directory of NDJSON data files")
	loadCmd.Flags().StringSlice("only", nil, "only load these models")
	loadCmd.Flags().Bool("dry-run", false, "only simulate loading but don't actually make db changes")
	loadCmd.Flags().Bool("skip-invalid", false, "skip records that fail validation instead of stopping")
	loadCmd.Flags().Int("concurrency", 4, "number of files to load in parallel within a dependency level")
	loadCmd.Flags().Bool("confirm", false, "skip the confirmation prompt")
}
