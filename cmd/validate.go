package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crud6/crud6/internal/registry"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the model schemas without touching a database",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		dir := mustFlagString(cmd, "schema-dir", true)
		results, err := registry.Check(dir)
		if err != nil {
			logger.Error("error checking schemas: %s", err)
			os.Exit(3)
		}
		if len(results) == 0 {
			logger.Error("no model schemas found in %s", dir)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		black := color.New(color.FgBlack).SprintFunc()
		fmt.Println()
		var failed int
		for _, r := range results {
			name := filepath.Base(r.Filename)
			if r.Err != nil {
				failed++
				fmt.Printf("%s %-30s%s\n", red("✘"), name, r.Err)
				continue
			}
			detail := fmt.Sprintf("model %s, table %s, %d fields", r.Model.Name, r.Model.TableName(), len(r.Model.Fields))
			fmt.Printf("%s %-30s%s\n", green("✔"), name, black(detail))
		}
		fmt.Println()
		if failed > 0 {
			fmt.Printf("%s\n", red(fmt.Sprintf("%d of %d schemas failed validation", failed, len(results))))
			fmt.Println()
			os.Exit(1)
		}
		fmt.Printf("%s\n", green(fmt.Sprintf("All %d schemas are valid", len(results))))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
}
