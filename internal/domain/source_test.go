package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSource_Normalizes(t *testing.T) {
	assert.Equal(t, SourceID("token:0xcc"), TokenSource("0xCC"))
	assert.Equal(t, TokenSource("0xcc"), TokenSource("  0XCC "))
	assert.Equal(t, TokenSource("0xabc"), TokenSource("ABC"))
}

func TestSourceID_TokenContract(t *testing.T) {
	c, ok := TokenSource("0xAbC").TokenContract()
	assert.True(t, ok)
	assert.Equal(t, "0xabc", c)

	_, ok = SourceNative.TokenContract()
	assert.False(t, ok)
}

func TestSourceID_IsValid(t *testing.T) {
	assert.True(t, SourceNative.IsValid())
	assert.True(t, SourceDelegations.IsValid())
	assert.True(t, TokenSource("0x1").IsValid())
	assert.False(t, SourceID("token:").IsValid())
	assert.False(t, SourceID("bogus").IsValid())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKindChain, KindOf(ErrChain))
	assert.Equal(t, ErrorKindNetwork, KindOf(ErrNetwork))
	assert.Equal(t, ErrorKindNetwork, KindOf(assert.AnError))
}
