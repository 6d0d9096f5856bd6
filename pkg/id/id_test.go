package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableByCreationTime(t *testing.T) {
	a := New()
	time.Sleep(2 * time.Millisecond)
	b := New()

	assert.Equal(t, -1, Compare(a, b))
	assert.NotEqual(t, Nil, a)
}

func TestParseRoundtrip(t *testing.T) {
	orig := New()
	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-a-uuid")
	require.Error(t, err)
}

func TestTextMarshalRoundtrip(t *testing.T) {
	orig := New()
	text, err := orig.MarshalText()
	require.NoError(t, err)

	var got ID
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, orig, got)
}

func TestBytesRoundtrip(t *testing.T) {
	orig := New()
	assert.Equal(t, orig, FromBytes(orig.Bytes()))
}
