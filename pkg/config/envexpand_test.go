package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvSubstitutesVariables(t *testing.T) {
	t.Setenv("YOKEFLOW_TEST_HOST", "db.internal")

	out, err := ExpandEnv([]byte("host: {{.YOKEFLOW_TEST_HOST}}"))

	require.NoError(t, err)
	assert.Equal(t, "host: db.internal", string(out))
}

func TestExpandEnvMissingVariableIsEmpty(t *testing.T) {
	out, err := ExpandEnv([]byte("value: '{{.YOKEFLOW_DEFINITELY_UNSET_VAR}}'"))

	require.NoError(t, err)
	assert.Equal(t, "value: ''", string(out))
}

func TestExpandEnvLeavesDollarSignsAlone(t *testing.T) {
	// Blocklist and redaction entries carry regex anchors and shell text;
	// template syntax must not touch them.
	in := []byte("pattern: '^/+(bin|usr)/*$'\ncmd: 'echo $HOME $1'")

	out, err := ExpandEnv(in)

	require.NoError(t, err)
	assert.Equal(t, string(in), string(out))
}

func TestExpandEnvBadTemplate(t *testing.T) {
	_, err := ExpandEnv([]byte("value: {{.unterminated"))

	require.Error(t, err)
}
