package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	// digests are persisted as schema fingerprints so they must never change
	assert.Equal(t, "ef46db3751d8e999", Hash())
	assert.Equal(t, "26c7827d889f6da3", Hash("hello"))
	assert.Equal(t, "d481b75d0fa4abff", Hash("hello", 42, true))
	assert.Equal(t, "7c5b4e400f80bf7c", Hash(nil))

	// multiple values hash the concatenation, not each value
	assert.Equal(t, Hash("ab"), Hash("a", "b"))
	assert.NotEqual(t, Hash("a"), Hash("b"))
}

func TestModulo(t *testing.T) {
	assert.Equal(t, 0, Modulo("1", 1))
	assert.Equal(t, 0, Modulo("1", 2))
	assert.Equal(t, 1, Modulo("1", 3))
	assert.Equal(t, 5, Modulo("1 2 3 4", 10))
	// stable across calls
	assert.Equal(t, Modulo("ticket/42", 8), Modulo("ticket/42", 8))
}
