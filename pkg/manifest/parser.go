package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Format identifies the serialization a Manifest document was read from
// or should be written as.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// ParseJSON parses raw JSON bytes into a validated Manifest, running the
// jsonschema document-shape pre-check before typed decoding and the
// structural Validate() pass after it.
func ParseJSON(data []byte) (*Manifest, error) {
	if err := PreCheck(data); err != nil {
		return nil, errors.Wrap(err, "manifest: schema pre-check failed")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "manifest: invalid JSON")
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "manifest: structural validation failed")
	}
	return &m, nil
}

// ParseYAML parses raw YAML bytes into a validated Manifest. The
// document-shape pre-check runs against the YAML decoded into a
// generic tree re-marshaled to JSON, since the jsonschema compiler only
// understands JSON-shaped documents.
func ParseYAML(data []byte) (*Manifest, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrap(err, "manifest: invalid YAML")
	}
	asJSON, err := json.Marshal(convertYAMLMaps(generic))
	if err != nil {
		return nil, errors.Wrap(err, "manifest: re-encoding YAML as JSON for schema check")
	}
	if err := PreCheck(asJSON); err != nil {
		return nil, errors.Wrap(err, "manifest: schema pre-check failed")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "manifest: invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "manifest: structural validation failed")
	}
	return &m, nil
}

// Parse auto-detects JSON vs YAML by content (JSON documents must begin
// with '{' once whitespace is trimmed) and dispatches accordingly.
func Parse(data []byte) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// convertYAMLMaps recursively rewrites map[interface{}]interface{} nodes
// (gopkg.in/yaml.v3 node decoding into `interface{}` can produce these
// via its intermediate representation in some call shapes) into
// map[string]interface{} so encoding/json can marshal the tree.
func convertYAMLMaps(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = convertYAMLMaps(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[toString(k)] = convertYAMLMaps(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = convertYAMLMaps(e)
		}
		return out
	default:
		return v
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// SerializeJSON produces the deterministic JSON serialization §4.3
// requires: sorted keys (Go's encoding/json sorts map keys natively)
// and pretty-printed with two-space indentation, suitable for hashing
// and test fixtures.
func SerializeJSON(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrap(err, "manifest: serialize")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MergeAll parses and merges multiple Manifest documents (any mix of
// JSON/YAML), returning the first manifest with all subsequent ones
// merged into it. Fails on any duplicate channel or model name.
func MergeAll(documents [][]byte) (*Manifest, error) {
	if len(documents) == 0 {
		return nil, errors.New("manifest: no documents to merge")
	}
	base, err := Parse(documents[0])
	if err != nil {
		return nil, err
	}
	for i, doc := range documents[1:] {
		next, err := Parse(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: parsing document %d", i+1)
		}
		if err := base.Merge(next); err != nil {
			return nil, errors.Wrapf(err, "manifest: merging document %d", i+1)
		}
	}
	return base, nil
}
