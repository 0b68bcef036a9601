package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey("gemini-2.0-flash", "Game: Valorant")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey("gemini-2.0-flash", "Game: Valorant"))
	assert.NotEqual(t, a, HashKey("gemini-2.0-flash", "Game: CS2"))
	assert.NotEqual(t, HashKey("ab", "c"), HashKey("a", "bc"))
}
