package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApprox(t *testing.T) {
	var a Approx
	assert.Equal(t, 0, a.Count(""))
	assert.Equal(t, 1, a.Count("abc"))
	assert.Equal(t, 1, a.Count("abcd"))
	assert.Equal(t, 2, a.Count("abcde"))
	assert.Equal(t, 1, a.Count("héé"), "counts runes, not bytes")
}

func TestDefault_IsStableAndPositive(t *testing.T) {
	c := Default()
	assert.Equal(t, c, Default())
	assert.Greater(t, c.Count("hello world, this is a sentence"), 0)
	assert.Equal(t, 0, c.Count(""))
}
