package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
)

// CheckResult is the validation outcome for one schema file.
type CheckResult struct {
	Filename string
	Model    *internal.Model
	Err      error
}

// Check validates every model schema in dir, one result per json file.
// Unlike NewFileRegistry it keeps going after a failure so a report can show
// everything that needs fixing at once.
func Check(dir string) ([]CheckResult, error) {
	if !util.Exists(dir) {
		return nil, fmt.Errorf("schema directory does not exist: %s", dir)
	}
	meta, err := newMetaSchema()
	if err != nil {
		return nil, err
	}
	files, err := util.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error listing schema directory: %w", err)
	}
	sort.Strings(files)

	var results []CheckResult
	models := make(internal.ModelMap)
	tables := make(map[string]string)
	for _, filename := range files {
		if filepath.Ext(filename) != ".json" {
			continue
		}
		res := CheckResult{Filename: filename}
		buf, err := os.ReadFile(filename)
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		model, err := parseModel(meta, buf)
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}
		if _, ok := models[model.Name]; ok {
			res.Err = fmt.Errorf("duplicate model %s", model.Name)
			results = append(results, res)
			continue
		}
		if prev, ok := tables[model.TableName()]; ok {
			res.Err = fmt.Errorf("table %s is already used by model %s", model.TableName(), prev)
			results = append(results, res)
			continue
		}
		models[model.Name] = model
		tables[model.TableName()] = model.Name
		res.Model = model
		results = append(results, res)
	}

	// relation targets can only be checked once every model is known
	for i := range results {
		m := results[i].Model
		if results[i].Err != nil || m == nil {
			continue
		}
		for j := range m.Relations {
			r := &m.Relations[j]
			related, ok := models[r.Model]
			if !ok {
				results[i].Err = fmt.Errorf("relation %s: unknown model %q", r.Name, r.Model)
				break
			}
			if r.Type == internal.RelationHasMany && related.Field(r.ForeignKey) == nil {
				results[i].Err = fmt.Errorf("relation %s: foreign_key %s is not a field of %s", r.Name, r.ForeignKey, related.Name)
				break
			}
		}
	}
	return results, nil
}
