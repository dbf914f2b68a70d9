// Package schema holds the JSON schemas request bodies are validated
// against.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalid is returned when a document does not match its schema.
var ErrInvalid = errors.New("request does not match schema")

// Schema is one request body schema.
type Schema struct {
	Name        string // file stem, e.g. "zoom"
	Description string
	Source      []byte // raw JSON schema
}

// registry lists every embedded schema.
var registry = []Schema{
	{Name: "open_document", Description: "open a document by path or inline base64 data"},
	{Name: "viewport", Description: "resize the viewport and/or scroll"},
	{Name: "zoom", Description: "change the zoom level"},
	{Name: "rotate", Description: "rotate all pages"},
	{Name: "navigate", Description: "jump to a page or step through pages"},
	{Name: "edit", Description: "enter or leave edit mode on a page"},
	{Name: "annotations", Description: "stage overlay content for a page"},
	{Name: "save", Description: "write the document back or to a new file"},
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// All returns every schema sorted by name.
func All() ([]Schema, error) {
	schemas := make([]Schema, 0, len(registry))
	for _, s := range registry {
		full, err := Get(s.Name)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, *full)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Name < schemas[j].Name
	})
	return schemas, nil
}

// Get returns a single schema by name.
func Get(name string) (*Schema, error) {
	for _, s := range registry {
		if s.Name == name {
			content, err := schemaFS.ReadFile(filename(name))
			if err != nil {
				return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
			}
			return &Schema{Name: s.Name, Description: s.Description, Source: content}, nil
		}
	}
	return nil, fmt.Errorf("schema not found: %s", name)
}

// Validate checks raw JSON against the named schema. An empty body is
// validated as an empty object.
func Validate(name string, raw []byte) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	sch, ok := compiled[name]
	if !ok {
		return fmt.Errorf("schema not found: %s", name)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func compileAll() {
	compiler := jsonschema.NewCompiler()
	for _, s := range registry {
		content, err := schemaFS.ReadFile(filename(s.Name))
		if err != nil {
			compileErr = fmt.Errorf("failed to read schema %s: %w", s.Name, err)
			return
		}
		if err := compiler.AddResource(filename(s.Name), bytes.NewReader(content)); err != nil {
			compileErr = fmt.Errorf("failed to load schema %s: %w", s.Name, err)
			return
		}
	}
	compiled = make(map[string]*jsonschema.Schema, len(registry))
	for _, s := range registry {
		sch, err := compiler.Compile(filename(s.Name))
		if err != nil {
			compileErr = fmt.Errorf("failed to compile schema %s: %w", s.Name, err)
			return
		}
		compiled[s.Name] = sch
	}
}

func filename(name string) string {
	return "schemas/" + name + ".json"
}
