package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvInt_UsesFallbackWhenUnset(t *testing.T) {
	t.Setenv("HEDWIGCTL_TEST_INT", "")
	assert.Equal(t, 10, envInt("HEDWIGCTL_TEST_INT", 10))
}

func TestEnvInt_ParsesSetValue(t *testing.T) {
	t.Setenv("HEDWIGCTL_TEST_INT", "42")
	assert.Equal(t, 42, envInt("HEDWIGCTL_TEST_INT", 10))
}

func TestEnvInt_FallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("HEDWIGCTL_TEST_INT", "not-a-number")
	assert.Equal(t, 10, envInt("HEDWIGCTL_TEST_INT", 10))
}
