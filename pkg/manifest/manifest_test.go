package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifestJSON = `{
  "version": "1.0.0",
  "name": "demo",
  "channels": {
    "core": {
      "requests": {
        "echo": {
          "args": {
            "message": {"type": "string", "required": true}
          },
          "response": {"type": "object", "properties": {"echo": {"type": "string"}}}
        }
      }
    }
  }
}`

func TestParseJSONValid(t *testing.T) {
	m, err := ParseJSON([]byte(validManifestJSON))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
	req, channel, ok := m.ResolveRequest("echo")
	require.True(t, ok)
	assert.Equal(t, "core", channel)
	assert.True(t, req.Args["message"].Required)
}

func TestParseJSONRejectsReservedRequestName(t *testing.T) {
	doc := `{"version":"1.0.0","channels":{"core":{"requests":{"ping":{}}}}}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestParseJSONRejectsEmptyVersion(t *testing.T) {
	doc := `{"version":"","channels":{}}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestParseJSONRejectsBadPattern(t *testing.T) {
	doc := `{
	  "version": "1.0.0",
	  "channels": {"core": {"requests": {"echo": {
	    "args": {"message": {"type": "string", "validation": {"pattern": "("}}}
	  }}}}
	}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestParseJSONRejectsChannelWithNoRequests(t *testing.T) {
	doc := `{"version":"1.0.0","channels":{"core":{"requests":{}}}}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestParseJSONSchemaPreCheckRejectsWrongShape(t *testing.T) {
	doc := `{"version": 5}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	doc := `
version: "1.0.0"
channels:
  core:
    requests:
      ping_custom:
        args:
          value:
            type: integer
`
	m, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	req, _, ok := m.ResolveRequest("ping_custom")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, req.Args["value"].Type)
}

func TestModelRefMustResolve(t *testing.T) {
	doc := `{
	  "version": "1.0.0",
	  "channels": {"core": {"requests": {"echo": {
	    "args": {"thing": {"type": "reference", "model_ref": "Missing"}}
	  }}}}
	}`
	_, err := ParseJSON([]byte(doc))
	assert.Error(t, err)
}

func TestMergeDetectsDuplicateChannel(t *testing.T) {
	a, err := ParseJSON([]byte(validManifestJSON))
	require.NoError(t, err)
	b, err := ParseJSON([]byte(validManifestJSON))
	require.NoError(t, err)
	assert.Error(t, a.Merge(b))
}

func TestSerializeJSONIsDeterministic(t *testing.T) {
	m, err := ParseJSON([]byte(validManifestJSON))
	require.NoError(t, err)
	a, err := SerializeJSON(m)
	require.NoError(t, err)
	b, err := SerializeJSON(m)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
