package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed model.schema.json
var metaSchemaJSON []byte

const metaSchemaURL = "https://crud6.io/model.schema.json"

func newMetaSchema() (*js.Schema, error) {
	compiler := js.NewCompiler()
	if err := compiler.AddResource(metaSchemaURL, bytes.NewReader(metaSchemaJSON)); err != nil {
		return nil, fmt.Errorf("error adding meta schema: %w", err)
	}
	schema, err := compiler.Compile(metaSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("error compiling meta schema: %w", err)
	}
	return schema, nil
}

// parseModel validates a raw schema document against the meta schema, decodes
// it and runs the semantic checks. The fingerprint is calculated over the
// canonical re-encoded document so formatting changes don't alter it.
func parseModel(meta *js.Schema, buf []byte) (*internal.Model, error) {
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("error decoding json: %w", err)
	}
	if err := meta.Validate(doc); err != nil {
		if ve, ok := err.(*js.ValidationError); ok {
			return nil, fmt.Errorf("invalid model schema: %s", ve.Error())
		}
		return nil, err
	}
	var model internal.Model
	if err := json.Unmarshal(buf, &model); err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	model.Fingerprint = util.Hash(util.JSONStringify(&model))
	return &model, nil
}

// validateRelations runs the cross-model checks once every model is loaded.
func validateRelations(models internal.ModelMap) error {
	for _, m := range models {
		for i := range m.Relations {
			r := &m.Relations[i]
			related, ok := models[r.Model]
			if !ok {
				return fmt.Errorf("model %s: relation %s: unknown model %q", m.Name, r.Name, r.Model)
			}
			if r.Type == internal.RelationHasMany && related.Field(r.ForeignKey) == nil {
				return fmt.Errorf("model %s: relation %s: foreign_key %s is not a field of %s", m.Name, r.Name, r.ForeignKey, related.Name)
			}
		}
	}
	return nil
}
