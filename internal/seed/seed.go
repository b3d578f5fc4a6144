// Package seed generates deterministic sample data from model schemas and
// writes it through the store or to a SQL file. The same schemas always
// produce the same rows, so environments seeded from the same directory
// end up with identical data.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/store"
	"github.com/shopmonkeyus/go-common/logger"
)

const (
	defaultRows = 25

	// batchSize is how many statements are sent per database round trip
	// when executing directly.
	batchSize = 500
)

// Options are the settings for a seed run.
type Options struct {
	Logger   logger.Logger
	Registry internal.SchemaRegistry
	Store    *store.Store

	// Rows is the number of rows generated per model.
	Rows int

	// Out writes the generated statements to this file instead of
	// executing them.
	Out string

	// DryRun logs each statement without executing it.
	DryRun bool
}

// Result summarizes a seed run.
type Result struct {
	Models    []string
	Rows      int
	PivotRows int
}

// Run generates rows for every model and either executes them against the
// store or writes them to opts.Out. Models are emitted in belongs_to
// dependency order so parents land before the rows that reference them,
// and pivot rows go last.
func Run(ctx context.Context, opts Options) (*Result, error) {
	models, err := opts.Registry.Models()
	if err != nil {
		return nil, err
	}
	order, err := Order(models)
	if err != nil {
		return nil, err
	}
	rows := opts.Rows
	if rows <= 0 {
		rows = defaultRows
	}
	log := opts.Logger.WithPrefix("[seed]")
	started := time.Now()
	dialect := opts.Store.Dialect()

	emit, finish, err := sink(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Models: order}
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := models[name]
		for i := 0; i < rows; i++ {
			rec := Generate(m, models, rows, i)
			if err := emit(dialect.UpsertLiteral(m, rec)); err != nil {
				return nil, fmt.Errorf("error seeding %s: %w", name, err)
			}
			res.Rows++
		}
		log.Debug("generated %d rows for %s", rows, name)
	}

	// pivot rows go last so both sides already exist
	seen := make(map[string]bool)
	for _, name := range order {
		m := models[name]
		for i := range m.Relations {
			rel := &m.Relations[i]
			if rel.Type != internal.RelationManyToMany || rel.Pivot == nil || seen[rel.Pivot.Table] {
				continue
			}
			seen[rel.Pivot.Table] = true
			related, ok := models[rel.Model]
			if !ok {
				continue
			}
			for _, pair := range pivotPairs(m, related, rel, rows) {
				if err := emit(dialect.AttachPivotLiteral(rel, pair[0], pair[1])); err != nil {
					return nil, fmt.Errorf("error seeding pivot %s: %w", rel.Pivot.Table, err)
				}
				res.PivotRows++
			}
		}
	}

	if err := finish(); err != nil {
		return nil, err
	}
	log.Info("seeded %d rows and %d pivot rows across %d models in %v", res.Rows, res.PivotRows, len(order), time.Since(started))
	return res, nil
}

// Order sorts model names so belongs_to parents come before the models
// that reference them. A cycle between models is an error. Self references
// are fine: those rows point at earlier rows of the same model.
func Order(models internal.ModelMap) ([]string, error) {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("cycle in belongs_to relations: %s", strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		m := models[name]
		for i := range m.Relations {
			rel := &m.Relations[i]
			if rel.Type != internal.RelationBelongsTo || rel.Model == name {
				continue
			}
			if _, ok := models[rel.Model]; !ok {
				continue
			}
			if err := visit(rel.Model, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Levels groups model names by belongs_to depth: every model in a level
// only references models in earlier levels, so a level can be written in
// parallel once the previous one is done. Levels and the names inside each
// level are deterministically ordered.
func Levels(models internal.ModelMap) ([][]string, error) {
	order, err := Order(models)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	for _, name := range order {
		m := models[name]
		d := 0
		for i := range m.Relations {
			rel := &m.Relations[i]
			if rel.Type != internal.RelationBelongsTo || rel.Model == name {
				continue
			}
			if _, ok := models[rel.Model]; !ok {
				continue
			}
			if pd := depth[rel.Model] + 1; pd > d {
				d = pd
			}
		}
		depth[name] = d
	}
	var levels [][]string
	for _, name := range order {
		d := depth[name]
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], name)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels, nil
}

// sink returns the statement writer for the run: a buffered file writer
// when Out is set, otherwise a batching executor against the store.
func sink(ctx context.Context, opts Options) (emit func(string) error, finish func() error, err error) {
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating %s: %w", opts.Out, err)
		}
		w := bufio.NewWriter(f)
		emit = func(stmt string) error {
			_, err := w.WriteString(stmt)
			return err
		}
		finish = func() error {
			if err := w.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
		return emit, finish, nil
	}
	execute := opts.Store.Executer(ctx, opts.DryRun)
	limit := batchSize
	if opts.DryRun {
		// log one statement per line
		limit = 1
	}
	var batch strings.Builder
	var pending int
	flush := func() error {
		if pending == 0 {
			return nil
		}
		err := execute(batch.String())
		batch.Reset()
		pending = 0
		return err
	}
	emit = func(stmt string) error {
		batch.WriteString(stmt)
		pending++
		if pending >= limit {
			return flush()
		}
		return nil
	}
	return emit, flush, nil
}
