package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/registry"
	"github.com/crud6/crud6/internal/store"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	// register the database dialects and changefeed sinks
	_ "github.com/crud6/crud6/internal/dialects/mysql"
	_ "github.com/crud6/crud6/internal/dialects/postgresql"
	_ "github.com/crud6/crud6/internal/dialects/sqlite"
	_ "github.com/crud6/crud6/internal/dialects/sqlserver"
	_ "github.com/crud6/crud6/internal/sinks/file"
	_ "github.com/crud6/crud6/internal/sinks/kafka"
	_ "github.com/crud6/crud6/internal/sinks/nats"
	_ "github.com/crud6/crud6/internal/sinks/s3"
)

// Version is the build version, set from main.
var Version = "dev"

func mustFlagBool(cmd *cobra.Command, name string, required bool) bool {
	val, err := cmd.Flags().GetBool(name)
	if required && err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	return val
}

func mustFlagString(cmd *cobra.Command, name string, required bool) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	if required && val == "" {
		fmt.Printf("error: required flag --%s missing\n", name)
		os.Exit(1)
	}
	return val
}

func mustFlagInt(cmd *cobra.Command, name string, required bool) int {
	val, err := cmd.Flags().GetInt(name)
	if required && err != nil {
		fmt.Printf("error: %s\n", err)
		os.Exit(1)
	}
	return val
}

func newLogger(cmd *cobra.Command) logger.Logger {
	if mustFlagBool(cmd, "silent", false) {
		return logger.NewConsoleLogger(logger.LevelError)
	}
	if mustFlagBool(cmd, "verbose", false) {
		return logger.NewConsoleLogger(logger.LevelTrace)
	}
	return logger.NewConsoleLogger(logger.LevelInfo)
}

// loadRegistry reads the schema directory named by --schema-dir, exiting
// with a useful message when any schema fails validation.
func loadRegistry(log logger.Logger, cmd *cobra.Command) *registry.FileRegistry {
	dir := mustFlagString(cmd, "schema-dir", true)
	var reg *registry.FileRegistry
	var err error
	util.RunTaskWithSpinner(fmt.Sprintf("Loading schemas from %s ...", dir), func() {
		reg, err = registry.NewFileRegistry(log, dir)
	})
	if err != nil {
		log.Error("error loading schemas: %s", err)
		os.Exit(3)
	}
	return reg
}

// schemaSource returns the registry for read-only commands: --server reads
// the schemas from a running server, otherwise --schema-dir is read from
// disk.
func schemaSource(log logger.Logger, cmd *cobra.Command) internal.SchemaRegistry {
	if serverURL := mustFlagString(cmd, "server", false); serverURL != "" {
		var reg *registry.APIRegistry
		var err error
		util.RunTaskWithSpinner(fmt.Sprintf("Fetching schemas from %s ...", serverURL), func() {
			reg, err = registry.NewAPIRegistry(log, serverURL, mustFlagString(cmd, "api-key", false))
		})
		if err != nil {
			log.Error("error fetching schemas: %s", err)
			os.Exit(3)
		}
		return reg
	}
	return loadRegistry(log, cmd)
}

// connectStore opens the database named by --url.
func connectStore(ctx context.Context, log logger.Logger, cmd *cobra.Command) *store.Store {
	urlString := mustFlagString(cmd, "url", true)
	db, err := store.New(ctx, log, urlString)
	if err != nil {
		log.Error("error connecting to database: %s", err)
		os.Exit(3)
	}
	return db
}

var rootCmd = &cobra.Command{
	Use:   "crud6",
	Short: "Schema driven CRUD service for SQL databases",
	Long:  "crud6 turns a directory of JSON model schemas into a REST API, migrations, seed data and tests. Run crud6 serve to start the API server or crud6 help for the full command list.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		bindEnvFlags(cmd)
	},
}

// bindEnvFlags fills unset flags from CRUD6_* environment variables and the
// optional config file, so --url and CRUD6_URL are interchangeable.
func bindEnvFlags(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvPrefix("CRUD6")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if config, _ := cmd.Flags().GetString("config"); config != "" {
		v.SetConfigFile(config)
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("error: reading config %s: %s\n", config, err)
			os.Exit(1)
		}
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, v.GetString(f.Name)); err != nil {
			fmt.Printf("error: invalid value for --%s: %s\n", f.Name, err)
			os.Exit(1)
		}
	})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "turn on verbose logging")
	rootCmd.PersistentFlags().Bool("silent", false, "only log errors")
	rootCmd.PersistentFlags().String("config", "", "path to a config file (flags may also be set with CRUD6_* environment variables)")
}
