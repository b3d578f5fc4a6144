package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/changefeed"
	"github.com/crud6/crud6/internal/server"
	"github.com/crud6/crud6/internal/util"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/shopmonkeyus/go-common/sys"
	"github.com/spf13/cobra"
)

// shutdownTimeout is how long in-flight requests get to finish once a
// shutdown signal arrives.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CRUD API server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		logger := newLogger(cmd)
		defer util.RecoverPanic(logger)
		logger.Trace("args: %v", util.MaskArguments(os.Args[1:]))

		reg := loadRegistry(logger, cmd)
		db := connectStore(ctx, logger, cmd)
		defer db.Close()

		serverID, err := util.GetMachineId()
		if err != nil {
			logger.Debug("machine id unavailable: %s", err)
			serverID = uuid.New().String()
		}

		auth, err := server.NewAuthenticator(ctx, mustFlagString(cmd, "auth-secret", false), mustFlagString(cmd, "auth-tokens", false))
		if err != nil {
			logger.Error("error configuring auth: %s", err)
			os.Exit(3)
		}
		if auth == nil {
			logger.Warn("authentication is disabled, set --auth-secret or --auth-tokens to enable it")
		}

		cfg := server.Config{
			Logger:   logger,
			Registry: reg,
			Store:    db,
			Auth:     auth,
			Port:     mustFlagInt(cmd, "port", true),
			ServerID: serverID,
			Version:  Version,
		}

		var publisher *changefeed.Publisher
		if feedURL := mustFlagString(cmd, "changefeed", false); feedURL != "" {
			if !strings.Contains(feedURL, "://") {
				// a bare path means a directory of event files
				feedURL = util.ToFileURI(feedURL, "")
			}
			publisher, err = changefeed.New(ctx, logger, feedURL)
			if err != nil {
				logger.Error("error starting changefeed: %s", err)
				os.Exit(3)
			}
			cfg.Publisher = publisher
		}

		if mustFlagBool(cmd, "watch", false) {
			go func() {
				if err := reg.Watch(ctx); err != nil {
					logger.Error("schema watch failed: %s", err)
				}
			}()
		}

		srv := server.New(cfg)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Run()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("server error: %s", err)
				os.Exit(1)
			}
		case <-ctx.Done():
		case <-sys.CreateShutdownChannel():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down: %s", err)
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Error("error closing changefeed: %s", err)
			}
		}
		logger.Info("👋 Bye")
	},
}

var serveHelpCmd = &cobra.Command{
	Use:   "help [dialect]",
	Short: "Get help for the supported databases",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		black := color.New(color.FgBlack).SprintFunc()
		whiteBold := color.New(color.FgWhite, color.Bold).SprintFunc()
		white := color.New(color.FgWhite).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		blue := color.New(color.FgBlue, color.Bold).SprintFunc()
		metadata := internal.GetDialectMetadata()
		sort.Slice(metadata, func(i, j int) bool { return metadata[i].Scheme < metadata[j].Scheme })
		fmt.Println()
		fmt.Printf("%s\n", blue("crud6 CRUD API server"))
		fmt.Printf("%s\n", black("version: "+Version))
		fmt.Println()
		if len(args) == 0 {
			fmt.Println("This build supports the following databases:")
			fmt.Println()
			for _, md := range metadata {
				fmt.Printf("%-25s%s\n", yellow(md.Name), whiteBold(md.Description))
				fmt.Printf("%14s%s: %s\n", "", black("Example url"), cyan(md.ExampleURL))
				fmt.Println()
			}
			fmt.Println()
			fmt.Println("Example usage:")
			fmt.Println()
			c := filepath.Base(os.Args[0])
			if Version == "dev" {
				c = "go run . "
			}
			fmt.Printf(" $ %s\n", green(c+" serve --url "+metadata[0].ExampleURL+" --schema-dir ./schemas"))
			fmt.Println()
			fmt.Println(black("To get a full list of options, pass in the --help flag."))
			fmt.Println()
			fmt.Println(black("To get more detailed help for a specific database run: " + c + "serve help [name]"))
			fmt.Println()
		} else {
			var found *internal.DialectMetadata
			for i, md := range metadata {
				if md.Scheme == args[0] || md.Name == args[0] {
					found = &metadata[i]
					break
				}
			}
			if found == nil {
				fmt.Printf("No database named %s is supported.\n", yellow(args[0]))
				fmt.Println()
				os.Exit(1)
			}
			fmt.Printf("%s\n", yellow(found.Name))
			fmt.Printf("%s\n", white(found.Description))
			fmt.Printf("%s: %s\n", black("Example url"), cyan(found.ExampleURL))
			fmt.Println()
			fmt.Println(found.Help)
			fmt.Println()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveHelpCmd)
	serveCmd.Flags().String("url", "", "database connection string")
	serveCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	serveCmd.Flags().Int("port", 3000, "port to listen on")
	serveCmd.Flags().String("changefeed", "", "sink url for change events (file://, nats://, kafka:// or s3://)")
	serveCmd.Flags().String("auth-secret", "", "JWT signing secret for bearer tokens")
	serveCmd.Flags().String("auth-tokens", "", "path to a TOML file of static API tokens")
	serveCmd.Flags().Bool("watch", true, "reload schemas when they change on disk")
}
