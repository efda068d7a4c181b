package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguage(t *testing.T) {
	lang, err := ParseLanguage(" Python ")
	require.NoError(t, err)
	assert.Equal(t, LanguagePython, lang)

	lang, err = ParseLanguage("java")
	require.NoError(t, err)
	assert.Equal(t, LanguageJava, lang)

	_, err = ParseLanguage("cobol")
	assert.Error(t, err)
}

func TestLimitedBuffer(t *testing.T) {
	b := &LimitedBuffer{Max: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.Truncated())

	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", b.String())
	assert.True(t, b.Truncated())

	_, _ = b.Write([]byte("more"))
	assert.Equal(t, "abcde", b.String())
}

func TestLimitedBuffer_Unlimited(t *testing.T) {
	b := &LimitedBuffer{}
	_, _ = b.Write([]byte("hello world"))
	assert.Equal(t, "hello world", b.String())
	assert.False(t, b.Truncated())
}
