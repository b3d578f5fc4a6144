// Package load bulk imports NDJSON data files into model tables. Each file
// holds one record per line and is named after its model, ticket.ndjson or
// ticket.ndjson.gz. Rows are validated against the schema and written as
// idempotent upserts, so reloading the same files is safe.
package load

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/seed"
	"github.com/crud6/crud6/internal/store"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"golang.org/x/sync/errgroup"
)

// defaultFlushAt is how many deduplicated rows accumulate before a batch is
// written to the database.
const defaultFlushAt = 1000

// defaultConcurrency is how many files load in parallel within one
// dependency level.
const defaultConcurrency = 4

// Options are the settings for a load run.
type Options struct {
	Logger   logger.Logger
	Registry internal.SchemaRegistry
	Store    *store.Store

	// Dir is the directory holding the NDJSON files.
	Dir string

	// Only restricts the run to these models when non-empty.
	Only []string

	// FlushAt overrides the batch size.
	FlushAt int

	// Concurrency is how many files load in parallel within one dependency
	// level.
	Concurrency int

	// DryRun logs the statements without executing them.
	DryRun bool

	// SkipInvalid logs and skips records that fail validation instead of
	// stopping the run.
	SkipInvalid bool

	// Progress, when set, is updated as each file loads.
	Progress *util.ProgressBar
}

// FileResult summarizes one loaded file.
type FileResult struct {
	Model   string
	File    string
	Rows    int
	Skipped int
}

// Result summarizes a load run.
type Result struct {
	Files   []FileResult
	Rows    int
	Skipped int
}

// Run discovers the data files in opts.Dir and loads them level by level:
// rows referencing other models land after their parents, and the
// independent files within a level load in parallel.
func Run(ctx context.Context, opts Options) (*Result, error) {
	models, err := opts.Registry.Models()
	if err != nil {
		return nil, err
	}
	files, err := Files(opts.Dir, models)
	if err != nil {
		return nil, err
	}
	if len(opts.Only) > 0 {
		for _, name := range opts.Only {
			if _, ok := models[name]; !ok {
				return nil, fmt.Errorf("no model named %s", name)
			}
		}
		for name := range files {
			if !util.SliceContains(opts.Only, name) {
				delete(files, name)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found in %s", opts.Dir)
	}
	levels, err := seed.Levels(models)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.WithPrefix("[load]")
	flushAt := opts.FlushAt
	if flushAt <= 0 {
		flushAt = defaultFlushAt
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	started := time.Now()

	res := &Result{}
	var loaded atomic.Int64
	for _, level := range levels {
		var names []string
		for _, name := range level {
			if _, ok := files[name]; ok {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			continue
		}
		frs := make([]*FileResult, len(names))
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(concurrency)
		for i, name := range names {
			group.Go(func() error {
				if opts.Progress != nil {
					opts.Progress.SetMessage(fmt.Sprintf("Loading %s...", name))
				}
				fr, err := loadFile(gctx, log, opts, models[name], files[name], flushAt)
				if err != nil {
					return err
				}
				frs[i] = fr
				if opts.Progress != nil {
					opts.Progress.SetProgress(float64(loaded.Add(1)) / float64(len(files)))
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for _, fr := range frs {
			res.Files = append(res.Files, *fr)
			res.Rows += fr.Rows
			res.Skipped += fr.Skipped
		}
	}
	log.Info("loaded %d rows from %d files in %v", res.Rows, len(res.Files), time.Since(started))
	return res, nil
}

// Files maps model names to their data files in dir. A model may have one
// file, plain or gzipped.
func Files(dir string, models internal.ModelMap) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", dir, err)
	}
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".ndjson") && !strings.HasSuffix(name, ".ndjson.gz") {
			continue
		}
		model := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".ndjson")
		if _, ok := models[model]; !ok {
			return nil, fmt.Errorf("no model named %s for data file %s", model, name)
		}
		if dup, ok := files[model]; ok {
			return nil, fmt.Errorf("duplicate data files for %s: %s and %s", model, filepath.Base(dup), name)
		}
		files[model] = filepath.Join(dir, name)
	}
	return files, nil
}

// loadFile streams one NDJSON file through validation into batched upserts.
// Rows are deduplicated by primary key within a batch, the last one wins.
func loadFile(ctx context.Context, log logger.Logger, opts Options, m *internal.Model, fn string, flushAt int) (*FileResult, error) {
	dec, err := util.NewNDJSONDecoder(fn)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	execute := opts.Store.Executer(ctx, opts.DryRun)
	dialect := opts.Store.Dialect()
	batch := util.NewBatcher()
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		var sb strings.Builder
		for _, row := range batch.Rows() {
			sb.WriteString(dialect.UpsertLiteral(m, row.Record))
		}
		if err := execute(sb.String()); err != nil {
			return err
		}
		batch.Clear()
		return nil
	}

	base := filepath.Base(fn)
	pk := m.PrimaryKeyName()
	res := &FileResult{Model: m.Name, File: base}
	line := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		var input map[string]any
		if err := dec.Decode(&input); err != nil {
			return nil, fmt.Errorf("error decoding %s record %d: %w", base, line, err)
		}
		rec, err := coerceRow(m, input)
		if err != nil {
			if opts.SkipInvalid {
				log.Warn("skipping %s record %d: %s", base, line, err)
				res.Skipped++
				continue
			}
			return nil, fmt.Errorf("%s record %d: %w", base, line, err)
		}
		batch.Add(m.Name, fmt.Sprintf("%v", rec[pk]), rec)
		res.Rows++
		if batch.Len() >= flushAt {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("error loading %s: %w", base, err)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("error loading %s: %w", base, err)
	}
	log.Debug("loaded %d rows from %s", res.Rows, base)
	return res, nil
}

// coerceRow validates one decoded line. Unlike the API path the primary key
// must be present, and caller supplied timestamps are preserved so exports
// reload faithfully.
func coerceRow(m *internal.Model, input map[string]any) (internal.Record, error) {
	pkName := m.PrimaryKeyName()
	pkField := m.PrimaryKeyField()
	rawPK, ok := input[pkName]
	if !ok || rawPK == nil {
		return nil, fmt.Errorf("missing %s", pkName)
	}
	pk, err := internal.CoerceValue(pkField.Type, rawPK)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", pkName, err)
	}

	maintained := internal.Record{}
	var stamps []string
	if m.Timestamps {
		stamps = append(stamps, internal.CreatedAtColumn, internal.UpdatedAtColumn)
	}
	if m.SoftDelete {
		stamps = append(stamps, internal.DeletedAtColumn)
	}
	for _, col := range stamps {
		val, ok := input[col]
		if !ok || val == nil {
			continue
		}
		ts, err := internal.CoerceValue(internal.FieldTypeDatetime, val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %s", col, err)
		}
		maintained[col] = ts
	}

	body := make(map[string]any, len(input))
	for k, v := range input {
		if k == pkName {
			continue
		}
		body[k] = v
	}
	rec, errs := internal.CoerceRecord(m, body)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", fieldErrorString(errs))
	}
	rec[pkName] = pk
	for k, v := range maintained {
		rec[k] = v
	}
	if errs := internal.ValidateRecord(m, rec, false); len(errs) > 0 {
		return nil, fmt.Errorf("%s", fieldErrorString(errs))
	}
	// schema defaults fill absent columns; auto values are never regenerated
	// so reloading stays idempotent
	for i := range m.Fields {
		f := &m.Fields[i]
		if _, present := rec[f.Name]; present {
			continue
		}
		if f.Default == nil || f.Auto != "" {
			continue
		}
		val, err := internal.CoerceValue(f.Type, f.Default)
		if err != nil {
			return nil, fmt.Errorf("invalid default for %s: %s", f.Name, err)
		}
		rec[f.Name] = val
	}
	return rec, nil
}

func fieldErrorString(errs []internal.FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s %s", e.Field, e.Message))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
