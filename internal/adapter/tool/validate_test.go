package tool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireField(t *testing.T) {
	assert.NoError(t, RequireField("expression", "25 * 4"))
	assert.NoError(t, RequireField("expression", " "), "whitespace counts as a value")

	err := RequireField("expression", "")
	require.Error(t, err)
	assert.Equal(t, "'expression' is required", err.Error())
}

func TestRequireFields(t *testing.T) {
	tests := []struct {
		name    string
		kvs     []string
		wantErr string
	}{
		{"all set", []string{"service", "sts", "operation", "GetCallerIdentity"}, ""},
		{"no args", nil, ""},
		{"first missing", []string{"service", "", "operation", "X"}, "'service' is required"},
		{"reports first missing only", []string{"service", "", "operation", ""}, "'service' is required"},
		{"last missing", []string{"service", "s3", "region", ""}, "'region' is required"},
		{"odd args", []string{"service"}, "odd number of arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireFields(tt.kvs...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		value   int
		wantErr bool
	}{
		{0, false},
		{2, false},
		{8, false},
		{-1, true},
		{9, true},
	}
	for _, tt := range tests {
		err := ValidateRange("indent", tt.value, 0, 8)
		if tt.wantErr {
			require.Error(t, err, "value %d", tt.value)
			assert.Equal(t, "indent must be 0-8", err.Error())
		} else {
			assert.NoError(t, err, "value %d", tt.value)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	assert.NoError(t, ValidateEnum("protocol", "", "json", "query"), "empty means unset")
	assert.NoError(t, ValidateEnum("protocol", "query", "json", "query"))

	err := ValidateEnum("protocol", "rest-xml", "json", "query")
	require.Error(t, err)
	assert.Equal(t, `invalid protocol "rest-xml" (want: json, query)`, err.Error())

	err = ValidateEnum("method", "get", "GET", "POST")
	assert.Error(t, err, "comparison is case sensitive")
}

func TestValidateAll(t *testing.T) {
	assert.NoError(t, ValidateAll())
	assert.NoError(t, ValidateAll(nil, nil))

	first, second := errors.New("first"), errors.New("second")
	assert.Equal(t, first, ValidateAll(nil, first, second))

	err := ValidateAll(
		RequireField("json_string", `{"a":1}`),
		ValidateRange("indent", 12, 0, 8),
		ValidateEnum("format", "toml", "json", "yaml"),
	)
	require.Error(t, err)
	assert.Equal(t, "indent must be 0-8", err.Error())
}
