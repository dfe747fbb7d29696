package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainChecker(t *testing.T) {
	var c Checker = PlainChecker{}
	assert.True(t, c.Check("secret", "secret"))
	assert.True(t, c.Check("", ""))
	assert.False(t, c.Check("secret", "Secret"))
	assert.False(t, c.Check("secret", "secret "))
}
