// Package validation checks client supplied JSON documents against the
// embedded schemas before they reach the phone service.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	phone_errors "clinic-phone/pkg/errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://clinic-phone.local/schemas/"

const (
	SettingsPatch   = "settings_patch.json"
	DeviceSelection = "device_selection.json"
)

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func New() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, name := range []string{SettingsPatch, DeviceSelection} {
		schema, err := compileSchema(name)
		if err != nil {
			return nil, err
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// MustNew panics when an embedded schema does not compile.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	url := schemaBaseURL + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Validate checks raw against the named schema. Failures wrap ErrInvalidInput.
func (v *Validator) Validate(name string, raw []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", phone_errors.ErrInvalidInput, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", phone_errors.ErrInvalidInput, err)
	}
	return nil
}
