package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and scaffold model schemas",
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the loaded models",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		reg := schemaSource(logger, cmd)
		models, err := reg.Models()
		if err != nil {
			logger.Error("error loading models: %s", err)
			os.Exit(1)
		}
		names := make([]string, 0, len(models))
		for name := range models {
			names = append(names, name)
		}
		sort.Strings(names)
		yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		black := color.New(color.FgBlack).SprintFunc()
		whiteBold := color.New(color.FgWhite, color.Bold).SprintFunc()
		fmt.Println()
		for _, name := range names {
			m := models[name]
			title := m.Title
			if title == "" {
				title = m.Name
			}
			fmt.Printf("%-25s%s\n", yellow(m.Name), whiteBold(title))
			fmt.Printf("%14s%s: %s  %s: %d  %s: %d  %s: %s\n", "",
				black("table"), cyan(m.TableName()),
				black("fields"), len(m.Fields),
				black("relations"), len(m.Relations),
				black("fingerprint"), m.Fingerprint)
			fmt.Println()
		}
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show [model]",
	Short: "Print a model's schema document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		reg := schemaSource(logger, cmd)
		model, err := reg.Model(args[0])
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}
		buf, err := json.MarshalIndent(model, "", "  ")
		if err != nil {
			logger.Error("error encoding model: %s", err)
			os.Exit(1)
		}
		fmt.Println(string(buf))
	},
}

var schemaInitCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a model schema interactively",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger(cmd)
		dir := mustFlagString(cmd, "schema-dir", true)

		var name, title, table, pk, fieldLines string
		var timestamps, softDelete bool
		if len(args) > 0 {
			name = args[0]
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Model name").
					Description("lower snake_case, singular, e.g. support_ticket").
					Value(&name).
					Validate(func(s string) error {
						if !internal.ValidIdentifier(s) {
							return fmt.Errorf("%q is not a valid identifier", s)
						}
						return nil
					}),
				huh.NewInput().
					Title("Title").
					Description("display name, optional").
					Value(&title),
				huh.NewInput().
					Title("Table").
					Description("defaults to the model name").
					Value(&table),
				huh.NewSelect[string]().
					Title("Primary key").
					Options(
						huh.NewOption("Auto increment integer", internal.AutoIncrement),
						huh.NewOption("Generated UUID", internal.AutoUUID),
					).
					Value(&pk),
				huh.NewConfirm().
					Title("Maintain created_at / updated_at timestamps?").
					Value(&timestamps),
				huh.NewConfirm().
					Title("Soft delete instead of hard delete?").
					Value(&softDelete),
				huh.NewText().
					Title("Fields").
					Description("one per line: name type [required|nullable], e.g. subject string required").
					Value(&fieldLines),
			),
		)
		custom := huh.ThemeBase()
		form.WithTheme(custom)
		if err := form.Run(); err != nil {
			if !errors.Is(err, huh.ErrUserAborted) {
				logger.Error("error running form: %s", err)
			}
			os.Exit(1)
		}

		model, err := buildModel(name, title, table, pk, timestamps, softDelete, fieldLines)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}
		filename := filepath.Join(dir, name+".json")
		if util.Exists(filename) {
			logger.Error("%s already exists", filename)
			os.Exit(1)
		}
		buf, err := json.MarshalIndent(model, "", "  ")
		if err != nil {
			logger.Error("error encoding model: %s", err)
			os.Exit(1)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("error creating %s: %s", dir, err)
			os.Exit(1)
		}
		if err := os.WriteFile(filename, append(buf, '\n'), 0o644); err != nil {
			logger.Error("error writing %s: %s", filename, err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Println()
		fmt.Printf("%s\n", green("Wrote "+filename))
		fmt.Println()
	},
}

// buildModel assembles a model from the wizard answers and runs the same
// semantic checks the registry applies on load.
func buildModel(name, title, table, pk string, timestamps, softDelete bool, fieldLines string) (*internal.Model, error) {
	pkField := internal.Field{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement}
	if pk == internal.AutoUUID {
		pkField = internal.Field{Name: "id", Type: internal.FieldTypeUUID, Auto: internal.AutoUUID}
	}
	fields, err := parseFieldLines(fieldLines)
	if err != nil {
		return nil, err
	}
	model := &internal.Model{
		Name:       name,
		Title:      title,
		Table:      table,
		PrimaryKey: "id",
		Timestamps: timestamps,
		SoftDelete: softDelete,
		Fields:     append([]internal.Field{pkField}, fields...),
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

func parseFieldLines(input string) ([]internal.Field, error) {
	var fields []internal.Field
	for _, line := range strings.Split(input, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		f := internal.Field{Name: parts[0], Type: internal.FieldTypeString}
		if len(parts) > 1 {
			f.Type = parts[1]
		}
		for _, opt := range parts[2:] {
			switch opt {
			case "required":
				f.Required = true
			case "nullable":
				f.Nullable = true
			default:
				return nil, fmt.Errorf("unknown field option %q in %q", opt, strings.TrimSpace(line))
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaListCmd)
	schemaCmd.AddCommand(schemaShowCmd)
	schemaCmd.AddCommand(schemaInitCmd)
	schemaListCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	schemaListCmd.Flags().String("server", "", "read schemas from a running server instead of a directory")
	schemaListCmd.Flags().String("api-key", "", "bearer token for --server")
	schemaShowCmd.Flags().String("schema-dir", "./schemas", "directory of model schema files")
	schemaShowCmd.Flags().String("server", "", "read schemas from a running server instead of a directory")
	schemaShowCmd.Flags().String("api-key", "", "bearer token for --server")
	schemaInitCmd.Flags().String("schema-dir", "./schemas", "directory to write the schema file into")
}
