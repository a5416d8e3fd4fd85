package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_HOST", "db.example.com")
	t.Setenv("TEST_PORT", "5432")

	out := ExpandEnv([]byte("url: {{.TEST_HOST}}:{{.TEST_PORT}}"))
	assert.Equal(t, "url: db.example.com:5432", string(out))
}

func TestExpandEnvMissingVariable(t *testing.T) {
	out := ExpandEnv([]byte("key: {{.DEFINITELY_NOT_SET_ANYWHERE}}"))
	assert.Equal(t, "key: ", string(out))
}

func TestExpandEnvLeavesDollarSignsAlone(t *testing.T) {
	// Regex patterns and passwords with $ must survive expansion untouched
	in := []byte(`pattern: "^[A-Za-z0-9+/]{40,}={0,2}$"`)
	assert.Equal(t, in, ExpandEnv(in))
}

func TestExpandEnvInvalidTemplateReturnsOriginal(t *testing.T) {
	in := []byte("broken: {{.UNCLOSED")
	assert.Equal(t, in, ExpandEnv(in))
}
