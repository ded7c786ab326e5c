// Package contracts provides JSON Schema validation for event contracts.
// Schemas are loaded from a contracts directory and registered by their $id,
// so the pipeline can validate a document against a named schema.
package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AlertRaisedSchemaID is the schema id for inbound patient alerts.
const AlertRaisedSchemaID = "patient.alert.raised"

// defaultAlertRaisedSchema is registered when the contracts directory does not
// provide a schema for patient.alert.raised, so the service can still validate
// inbound alerts.
const defaultAlertRaisedSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$id": "patient.alert.raised",
	"type": "object",
	"required": ["alert_id", "patient_id", "timestamp"],
	"properties": {
		"alert_id": {"type": "string", "minLength": 1},
		"patient_id": {"type": "string", "minLength": 1},
		"severity": {"type": "string"},
		"timestamp": {"type": "string"}
	}
}`

// Result is the outcome of validating a document against a schema.
type Result struct {
	Valid  bool
	Errors []string
}

// Validator validates documents against named JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator loads every *.json schema under contractsPath (recursively) and
// registers it by $id. Files that cannot be parsed are skipped with a warning.
// A missing directory is not an error; the built-in patient.alert.raised
// schema is registered either way unless the directory overrides it.
func NewValidator(contractsPath string) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	ids, err := registerSchemaFiles(compiler, contractsPath)
	if err != nil {
		return nil, err
	}

	if _, ok := ids[AlertRaisedSchemaID]; !ok {
		if err := compiler.AddResource(AlertRaisedSchemaID, strings.NewReader(defaultAlertRaisedSchema)); err != nil {
			return nil, fmt.Errorf("failed to register built-in alert schema: %w", err)
		}
		ids[AlertRaisedSchemaID] = struct{}{}
		slog.Info("Registered built-in schema", "schema_id", AlertRaisedSchemaID)
	}

	for id := range ids {
		sch, err := compiler.Compile(id)
		if err != nil {
			slog.Warn("Skipping schema that failed to compile", "schema_id", id, "error", err)
			continue
		}
		v.schemas[id] = sch
	}

	slog.Info("Schemas loaded", "count", len(v.schemas), "path", contractsPath)
	return v, nil
}

// registerSchemaFiles walks contractsPath and adds every parsable *.json file
// carrying an $id to the compiler. Returns the set of registered ids.
func registerSchemaFiles(compiler *jsonschema.Compiler, contractsPath string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})

	if contractsPath == "" {
		return ids, nil
	}
	if _, err := os.Stat(contractsPath); os.IsNotExist(err) {
		slog.Warn("Contracts path does not exist, using built-in schemas only", "path", contractsPath)
		return ids, nil
	}

	err := filepath.WalkDir(contractsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable schema file", "file", path, "error", err)
			return nil
		}

		var meta struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal(data, &meta); err != nil || meta.ID == "" {
			slog.Warn("Skipping schema file without a valid $id", "file", path, "error", err)
			return nil
		}
		if _, exists := ids[meta.ID]; exists {
			return nil
		}

		if err := compiler.AddResource(meta.ID, strings.NewReader(string(data))); err != nil {
			slog.Warn("Skipping invalid schema file", "file", path, "error", err)
			return nil
		}
		ids[meta.ID] = struct{}{}
		slog.Debug("Loaded schema", "schema_id", meta.ID, "file", path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas from %s: %w", contractsPath, err)
	}

	return ids, nil
}

// Validate validates a decoded JSON document against the schema registered
// under schemaID. An unknown schemaID is a validation failure, not an error.
func (v *Validator) Validate(schemaID string, document any) Result {
	sch, ok := v.schemas[schemaID]
	if !ok {
		slog.Warn("Schema not found during validation", "schema_id", schemaID)
		return Result{Valid: false, Errors: []string{fmt.Sprintf("schema %s not found", schemaID)}}
	}

	if err := sch.Validate(document); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return Result{Valid: false, Errors: []string{err.Error()}}
		}
		return Result{Valid: false, Errors: flattenErrors(ve)}
	}

	return Result{Valid: true}
}

// flattenErrors collects per-location error messages from a validation error.
func flattenErrors(ve *jsonschema.ValidationError) []string {
	var out []string
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		out = append(out, strings.TrimSpace(e.InstanceLocation+" "+e.Error))
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}
