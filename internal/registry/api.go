package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// APIRegistry reads model schemas from a running server instead of a local
// directory: the /v1/models index first, then each model's schema document.
// The snapshot is fixed at construction, so tooling pointed at a server sees
// the same models its API is serving.
type APIRegistry struct {
	logger logger.Logger
	url    string
	apiKey string

	mu     sync.RWMutex
	models internal.ModelMap
}

var _ internal.SchemaRegistry = (*APIRegistry)(nil)

// Models returns the current model snapshot keyed by name.
func (r *APIRegistry) Models() (internal.ModelMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models, nil
}

// Model returns the named model.
func (r *APIRegistry) Model(name string) (*internal.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	return model, nil
}

// Fingerprint returns the schema fingerprint of the named model.
func (r *APIRegistry) Fingerprint(name string) (string, error) {
	model, err := r.Model(name)
	if err != nil {
		return "", err
	}
	return model.Fingerprint, nil
}

// Save writes the combined model snapshot to a file.
func (r *APIRegistry) Save(filename string) error {
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

// Reload re-fetches every model schema from the server and swaps the
// snapshot once all of them load cleanly.
func (r *APIRegistry) Reload() error {
	var index struct {
		Rows []struct {
			Name string `json:"name"`
		} `json:"rows"`
	}
	if err := r.fetch(r.url+"/v1/models", &index); err != nil {
		return err
	}
	models := make(internal.ModelMap, len(index.Rows))
	for _, row := range index.Rows {
		var model internal.Model
		if err := r.fetch(fmt.Sprintf("%s/v1/%s/schema", r.url, row.Name), &model); err != nil {
			return err
		}
		if err := model.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", row.Name, err)
		}
		// the fingerprint never travels over the wire, recompute it the
		// same way the file registry does
		model.Fingerprint = util.Hash(util.JSONStringify(&model))
		models[model.Name] = &model
	}
	if len(models) == 0 {
		return fmt.Errorf("server at %s has no models", r.url)
	}
	if err := validateRelations(models); err != nil {
		return err
	}
	r.mu.Lock()
	r.models = models
	r.mu.Unlock()
	r.logger.Debug("loaded %d models from %s", len(models), r.url)
	return nil
}

type errorResponse struct {
	Message string `json:"message"`
}

// fetch gets one API document, retrying transient failures.
func (r *APIRegistry) fetch(url string, out any) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	retry := util.NewHTTPRetry(req, util.WithLogger(r.logger))
	resp, err := retry.Do()
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(resp.Body)
		var er errorResponse
		_ = json.Unmarshal(buf, &er)
		if er.Message != "" {
			return fmt.Errorf("error fetching %s: %s", url, er.Message)
		}
		return fmt.Errorf("error fetching %s: status %d", url, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("error decoding %s: %w", url, err)
	}
	return nil
}

// NewAPIRegistry creates a schema registry backed by a running server's
// schema endpoints. The apiKey is optional and sent as a bearer token.
func NewAPIRegistry(log logger.Logger, baseURL string, apiKey string) (*APIRegistry, error) {
	registry := &APIRegistry{
		logger: log.WithPrefix("[registry]"),
		url:    strings.TrimSuffix(baseURL, "/"),
		apiKey: apiKey,
	}
	if err := registry.Reload(); err != nil {
		return nil, err
	}
	return registry, nil
}
