package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeMnemonicKnownAndFallback(t *testing.T) {
	assert.Equal(t, "A", TypeMnemonic(1))
	assert.Equal(t, "AAAA", TypeMnemonic(28))
	assert.Equal(t, "RTYPE39", TypeMnemonic(39))
}

func TestClassMnemonicKnownAndFallback(t *testing.T) {
	assert.Equal(t, "IN", ClassMnemonic(1))
	assert.Equal(t, "CLASS3", ClassMnemonic(3))
}
