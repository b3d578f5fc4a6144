package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/seed"
	"github.com/crud6/crud6/internal/store"
	"github.com/crud6/crud6/internal/util"
	"github.com/spf13/cobra"
)

// confirmSeedAt is the generated row count above which direct execution asks
// for confirmation first.
const confirmSeedAt = 10_000

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate deterministic sample data from the model schemas",
	Long:  "Generates sample rows for every model, honoring enums, ranges and foreign keys. The same schemas always generate the same data. Use --out to write a SQL file instead of executing the statements.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		logger := newLogger(cmd)
		defer util.RecoverPanic(logger)

		rows := mustFlagInt(cmd, "rows", false)
		out := mustFlagString(cmd, "out", false)
		dryRun := mustFlagBool(cmd, "dry-run", false)

		reg := loadRegistry(logger, cmd)

		var db *store.Store
		if out != "" {
			// rendering to a file needs the dialect but no connection
			urlString := mustFlagString(cmd, "url", true)
			dialect, scheme, err := internal.LookupDialect(urlString)
			if err != nil {
				logger.Error("error resolving dialect: %s", err)
				os.Exit(3)
			}
			db = store.NewWithDB(logger, dialect, scheme, nil)
		} else {
			models, err := reg.Models()
			if err != nil {
				logger.Error("error loading models: %s", err)
				os.Exit(3)
			}
			total := rows * len(models)
			confirmed := mustFlagBool(cmd, "confirm", false)
			if !dryRun && !confirmed && total > confirmSeedAt {
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewNote().
							Title("\n🚨 WARNING 🚨"),
						huh.NewConfirm().
							Title(fmt.Sprintf("YOU ARE ABOUT TO WRITE %d GENERATED ROWS TO YOUR DATABASE", total)).
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
			db = connectStore(ctx, logger, cmd)
			defer db.Close()
		}

		res, err := seed.Run(ctx, seed.Options{
			Logger:   logger,
			Registry: reg,
			Store:    db,
			Rows:     rows,
			Out:      out,
			DryRun:   dryRun,
		})
		if err != nil {
			logger.Error("seed failed: %s", err)
			os.Exit(1)
		}
		if out != "" {
			logger.Info("wrote %d rows and %d pivot rows to %s", res.Rows, res.PivotRows, out)
		}
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("url", "", "database connection string")
	seedCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	seedCmd.Flags().Int("rows", 25, "rows to generate per model")
	seedCmd.Flags().String("out", "", "write the statements to this SQL file instead of executing them")
	seedCmd.Flags().Bool("dry-run", false, "log the statements without executing them")
	seedCmd.Flags().Bool("confirm", false, "skip the confirmation prompt")
}
