package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateProfileName(t *testing.T) {
	assert.NoError(t, ValidateProfileName("work"))
	assert.NoError(t, ValidateProfileName("work_laptop2"))
	assert.Error(t, ValidateProfileName("has space"))
	assert.Error(t, ValidateProfileName("has/slash"))
	assert.Error(t, ValidateProfileName(""))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a"))
	assert.True(t, within("/a", "/a"))
	assert.False(t, within("/a", "/a/b"))
	assert.False(t, within("/a/bc", "/a/b"))
}
