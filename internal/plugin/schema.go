// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/holomush/nvimwasm/pkg/errutil"
)

// SchemaID is the $id of the manifest schema, for use in plugin.yaml files.
const SchemaID = "https://nvimwasm.holomush.dev/schemas/plugin.schema.json"

var (
	schemaMu       sync.Mutex
	compiledSchema *jschema.Schema
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Manifest{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "nvimwasm Plugin Manifest"
	schema.Description = "Schema for plugin.yaml manifest files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "marshal schema")
	}
	return data, nil
}

func manifestSchema() (*jschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if compiledSchema != nil {
		return compiledSchema, nil
	}

	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "parse schema")
	}
	c := jschema.NewCompiler()
	if err := c.AddResource(SchemaID, doc); err != nil {
		return nil, oops.In("plugin").Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(SchemaID)
	if err != nil {
		return nil, oops.In("plugin").Wrapf(err, "compile schema")
	}
	compiledSchema = sch
	return sch, nil
}

// ValidateSchema validates YAML data against the manifest JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return invalidManifest("").Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return invalidManifest("").Wrapf(err, "invalid YAML")
	}
	// Round-trip through JSON so numbers and maps take the shapes the
	// validator expects.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return invalidManifest("").Wrapf(err, "manifest is not representable as JSON")
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return invalidManifest("").Wrap(err)
	}

	sch, err := manifestSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return oops.In("plugin").
			Code(errutil.CodeInvalidArgument).
			Hint(FormatSchemaError(err)).
			Wrapf(err, "schema validation failed")
	}
	return nil
}

// FormatSchemaError returns the validator's description of what failed,
// without the wrapping added by ValidateSchema.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	var verr *jschema.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return err.Error()
}
