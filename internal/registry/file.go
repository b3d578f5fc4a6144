package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	js "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopmonkeyus/go-common/logger"
)

// FileRegistry loads model schemas from a directory of json files, one model
// per file. Reload swaps the snapshot atomically so readers always see a
// complete, validated set of models.
type FileRegistry struct {
	logger logger.Logger
	dir    string
	meta   *js.Schema

	mu     sync.RWMutex
	models internal.ModelMap
}

var _ internal.SchemaRegistry = (*FileRegistry)(nil)

// Models returns the current model snapshot keyed by name.
func (r *FileRegistry) Models() (internal.ModelMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models, nil
}

// Model returns the named model.
func (r *FileRegistry) Model(name string) (*internal.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	return model, nil
}

// Fingerprint returns the schema fingerprint of the named model.
func (r *FileRegistry) Fingerprint(name string) (string, error) {
	model, err := r.Model(name)
	if err != nil {
		return "", err
	}
	return model.Fingerprint, nil
}

// Save writes the combined model snapshot to a file.
func (r *FileRegistry) Save(filename string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	of, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", filename, err)
	}
	defer of.Close()
	enc := json.NewEncoder(of)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.models); err != nil {
		return fmt.Errorf("error encoding models: %w", err)
	}
	return of.Close()
}

// Reload re-reads every model schema from disk and swaps the snapshot once
// all of them load cleanly. On error the previous snapshot keeps serving.
func (r *FileRegistry) Reload() error {
	files, err := util.ListDir(r.dir)
	if err != nil {
		return fmt.Errorf("error listing schema directory: %w", err)
	}
	models := make(internal.ModelMap)
	for _, filename := range files {
		if filepath.Ext(filename) != ".json" {
			continue
		}
		buf, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", filename, err)
		}
		model, err := parseModel(r.meta, buf)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		if _, ok := models[model.Name]; ok {
			return fmt.Errorf("%s: duplicate model %s", filename, model.Name)
		}
		models[model.Name] = model
	}
	if len(models) == 0 {
		return fmt.Errorf("no model schemas found in %s", r.dir)
	}
	tables := make(map[string]string, len(models))
	for _, m := range models {
		if prev, ok := tables[m.TableName()]; ok {
			return fmt.Errorf("models %s and %s share table %s", prev, m.Name, m.TableName())
		}
		tables[m.TableName()] = m.Name
	}
	if err := validateRelations(models); err != nil {
		return err
	}
	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
	r.logger.Debug("loaded %d models from %s", len(models), r.dir)
	return nil
}

// NewFileRegistry creates a schema registry from a directory of model schema
// files.
func NewFileRegistry(logger logger.Logger, dir string) (*FileRegistry, error) {
	if !util.Exists(dir) {
		return nil, fmt.Errorf("schema directory does not exist: %s", dir)
	}
	meta, err := newMetaSchema()
	if err != nil {
		return nil, err
	}
	registry := &FileRegistry{
		logger: logger.WithPrefix("[registry]"),
		dir:    dir,
		meta:   meta,
	}
	if err := registry.Reload(); err != nil {
		return nil, err
	}
	return registry, nil
}
