package cmd

import (
	"os"

	"github.com/crud6/crud6/internal/testgen"
	"github.com/crud6/crud6/internal/util"
	"github.com/spf13/cobra"
)

var testgenCmd = &cobra.Command{
	Use:   "testgen",
	Short: "Generate Go API tests from the model schemas",
	Long:  "Writes a standalone Go test package with one CRUD round trip per model. The tests run against the server named by CRUD6_BASE_URL, or the --base-url default baked into the helpers, and skip when neither is set.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		defer util.RecoverPanic(logger)
		reg := schemaSource(logger, cmd)
		if _, err := testgen.Run(testgen.Options{
			Logger:   logger,
			Registry: reg,
			Dir:      mustFlagString(cmd, "out", true),
			Package:  mustFlagString(cmd, "package", false),
			BaseURL:  mustFlagString(cmd, "base-url", false),
		}); err != nil {
			logger.Error("testgen failed: %s", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(testgenCmd)
	testgenCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	testgenCmd.Flags().String("server", "", "read schemas from a running server instead of a directory")
	testgenCmd.Flags().String("api-key", "", "bearer token for --server")
	testgenCmd.Flags().String("out", "./crud6test", "directory to write the generated tests into")
	testgenCmd.Flags().String("package", "crud6test", "package name for the generated tests")
	testgenCmd.Flags().String("base-url", "", "bake a default server address into the generated helpers")
}
