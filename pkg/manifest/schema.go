package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/manifest.schema.json
var embeddedSchema []byte

const schemaResourceURL = "https://janusipc.dev/schema/manifest.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schemaDoc() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		var doc interface{}
		if err := json.Unmarshal(embeddedSchema, &doc); err != nil {
			compileErr = errors.Wrap(err, "manifest: parse embedded schema")
			return
		}
		if err := compiler.AddResource(schemaResourceURL, doc); err != nil {
			compileErr = errors.Wrap(err, "manifest: register embedded schema")
			return
		}
		s, err := compiler.Compile(schemaResourceURL)
		if err != nil {
			compileErr = errors.Wrap(err, "manifest: compile embedded schema")
			return
		}
		compiled = s
	})
	return compiled, compileErr
}

// PreCheck validates raw Manifest JSON bytes against the document-shape
// schema before any typed parsing happens. This catches shape errors
// (wrong types, unknown required fields) with a precise JSON-pointer
// path, ahead of the structural validation Validate performs on the
// typed Manifest.
func PreCheck(data []byte) error {
	schema, err := schemaDoc()
	if err != nil {
		return err
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return errors.Wrap(err, "manifest: parse error: invalid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Wrapf(err, "manifest: document does not conform to schema")
	}
	return nil
}
