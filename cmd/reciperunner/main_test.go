package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParsePropertiesSplitsOnFirstEquals verifies shlex tokenizing and
// key=value splitting, including a quoted value containing a space.
func TestParsePropertiesSplitsOnFirstEquals(t *testing.T) {
	t.Parallel()

	got, err := parseProperties(`name=alice greeting="hello=world"`)
	require.NoError(t, err)
	assert.Equal(t, "alice", got["name"])
	assert.Equal(t, "hello=world", got["greeting"])
}

// TestParsePropertiesEmptyArgReturnsNil verifies an empty --properties
// string is not an error and yields no properties.
func TestParsePropertiesEmptyArgReturnsNil(t *testing.T) {
	t.Parallel()

	got, err := parseProperties("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestExitErrMapsZeroToNil verifies a zero exit code never becomes a
// cobra-reported error.
func TestExitErrMapsZeroToNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, exitErr(0))
	assert.Error(t, exitErr(1))
	assert.Error(t, exitErr(2))
}

// TestValidatePropertySchemaRejectsMissingRequiredField verifies a
// property map missing a schema-required field fails validation.
func TestValidatePropertySchemaRejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schemaPath := dir + "/schema.json"
	schema := `{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`
	require.NoError(t, os.WriteFile(schemaPath, []byte(schema), 0o644))

	err := validatePropertySchema(schemaPath, map[string]interface{}{})
	assert.Error(t, err)

	err = validatePropertySchema(schemaPath, map[string]interface{}{"name": "alice"})
	assert.NoError(t, err)
}
