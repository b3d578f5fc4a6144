package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/store"
	"github.com/crud6/crud6/internal/tracker"
	"github.com/shopmonkeyus/go-common/logger"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Options control a migration run.
type Options struct {
	Logger   logger.Logger
	Registry internal.SchemaRegistry
	Store    *store.Store

	// Tracker, when set, remembers the fingerprint applied to each model so
	// unchanged models skip introspection on the next run. URL keys the
	// tracker entries per database.
	Tracker *tracker.Tracker
	URL     string

	// DryRun logs the statements instead of executing them.
	DryRun bool

	// Force migrates models even when the tracked fingerprint is current.
	Force bool

	// Drop removes live columns the schema no longer declares. Without it
	// they are only reported.
	Drop bool

	Concurrency int
}

// TableResult is the outcome for one model's table.
type TableResult struct {
	Model      string
	Table      string
	Created    bool
	Added      []string
	Extra      []string
	Dropped    []string
	Skipped    bool
	Statements int
}

// Result is the outcome of a migration run.
type Result struct {
	Tables     []TableResult
	Pivots     []string
	Statements int
}

// Run synchronizes the live database with the registry's models: missing
// tables are created (with their secondary indexes and pivot tables), missing
// columns are added. Nothing is ever dropped unless Options.Drop is set.
func Run(ctx context.Context, opts Options) (*Result, error) {
	models, err := opts.Registry.Models()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	log := opts.Logger.WithPrefix("[migrate]")
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	started := time.Now()
	results := make([]TableResult, len(names))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for i, name := range names {
		group.Go(func() error {
			res, err := migrateModel(gctx, log, opts, models[name])
			results[i] = res
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Tables: results}
	skipped := make(map[string]bool, len(results))
	for _, res := range results {
		result.Statements += res.Statements
		skipped[res.Model] = res.Skipped
	}

	pivots, count, err := migratePivots(ctx, log, opts, models, names, skipped)
	if err != nil {
		return nil, err
	}
	result.Pivots = pivots
	result.Statements += count

	if opts.Tracker != nil && !opts.DryRun {
		for _, res := range results {
			if res.Skipped {
				continue
			}
			if err := opts.Tracker.SetMigrationFingerprint(opts.URL, res.Model, models[res.Model].Fingerprint); err != nil {
				return nil, fmt.Errorf("error recording fingerprint for %s: %w", res.Model, err)
			}
		}
	}

	log.Info("migrated %d models, %d statements in %v", len(names), result.Statements, time.Since(started).Round(time.Millisecond))
	return result, nil
}

func migrateModel(ctx context.Context, log logger.Logger, opts Options, m *internal.Model) (TableResult, error) {
	res := TableResult{Model: m.Name, Table: m.TableName()}
	if opts.Tracker != nil && !opts.Force && !opts.DryRun {
		found, fingerprint, err := opts.Tracker.MigrationFingerprint(opts.URL, m.Name)
		if err != nil {
			return res, err
		}
		if found && fingerprint == m.Fingerprint {
			log.Debug("%s is unchanged, skipping", m.Name)
			res.Skipped = true
			return res, nil
		}
	}

	desc, err := opts.Store.Describe(ctx, m.TableName())
	if err != nil {
		return res, fmt.Errorf("error describing table %s: %w", m.TableName(), err)
	}

	dialect := opts.Store.Dialect()
	var statements []string
	if desc == nil {
		statements = append(statements, dialect.CreateTable(m))
		statements = append(statements, dialect.CreateIndexes(m)...)
		res.Created = true
	} else {
		var missing []string
		for _, name := range m.Columns() {
			if !hasColumn(desc, name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			statements = append(statements, dialect.AddColumns(m, missing))
			res.Added = missing
		}
		for _, c := range desc.Columns {
			if !modelHasColumn(m, c.Name) {
				res.Extra = append(res.Extra, c.Name)
			}
		}
		if len(res.Extra) > 0 {
			if opts.Drop {
				for _, column := range res.Extra {
					statements = append(statements, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;\n",
						dialect.QuoteIdentifier(m.TableName()), dialect.QuoteIdentifier(column)))
				}
				res.Dropped = res.Extra
			} else {
				log.Warn("table %s has columns the %s schema does not declare: %s (re-run with --drop to remove)",
					m.TableName(), m.Name, strings.Join(res.Extra, ", "))
			}
		}
	}

	execute := opts.Store.Executer(ctx, opts.DryRun)
	for _, statement := range statements {
		if err := execute(statement); err != nil {
			return res, fmt.Errorf("error migrating table %s: %w", m.TableName(), err)
		}
	}
	res.Statements = len(statements)

	switch {
	case res.Created:
		log.Info("created table %s", m.TableName())
	case len(res.Added) > 0:
		log.Info("added columns to %s: %s", m.TableName(), strings.Join(res.Added, ", "))
	case len(res.Dropped) > 0:
	default:
		log.Debug("table %s is up to date", m.TableName())
	}
	if len(res.Dropped) > 0 {
		log.Info("dropped columns from %s: %s", m.TableName(), strings.Join(res.Dropped, ", "))
	}
	return res, nil
}

// migratePivots creates the pivot tables of many_to_many relations. A pivot
// shared by both sides of the relation is only checked once, and skipped
// entirely when both of its models were fingerprint skips.
func migratePivots(ctx context.Context, log logger.Logger, opts Options, models internal.ModelMap, names []string, skipped map[string]bool) ([]string, int, error) {
	var created []string
	var count int
	seen := make(map[string]bool)
	execute := opts.Store.Executer(ctx, opts.DryRun)
	for _, name := range names {
		m := models[name]
		for i := range m.Relations {
			rel := &m.Relations[i]
			if rel.Type != internal.RelationManyToMany || seen[rel.Pivot.Table] {
				continue
			}
			seen[rel.Pivot.Table] = true
			if skipped[m.Name] && skipped[rel.Model] {
				continue
			}
			desc, err := opts.Store.Describe(ctx, rel.Pivot.Table)
			if err != nil {
				return nil, 0, fmt.Errorf("error describing pivot table %s: %w", rel.Pivot.Table, err)
			}
			if desc != nil {
				continue
			}
			for _, statement := range opts.Store.Dialect().CreatePivot(rel, m, models[rel.Model]) {
				if err := execute(statement); err != nil {
					return nil, 0, fmt.Errorf("error creating pivot table %s: %w", rel.Pivot.Table, err)
				}
				count++
			}
			log.Info("created pivot table %s", rel.Pivot.Table)
			created = append(created, rel.Pivot.Table)
		}
	}
	return created, count, nil
}

// Column name comparisons are case insensitive: several backends report
// identifier case differently than the schema declares it.
func hasColumn(desc *internal.TableDescription, name string) bool {
	for _, c := range desc.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func modelHasColumn(m *internal.Model, name string) bool {
	for _, column := range m.Columns() {
		if strings.EqualFold(column, name) {
			return true
		}
	}
	return false
}
