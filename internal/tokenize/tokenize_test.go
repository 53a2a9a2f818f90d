package tokenize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeDeterministic(t *testing.T) {
	const cmd = `git commit -m "fix bug #42" --amend`
	a := Tokenize(cmd)
	b := Tokenize(cmd)
	require.Equal(t, a, b)
	require.False(t, a.Malformed)
}

func TestTokenizePreservesFlags(t *testing.T) {
	toks := Tokenize("ls -la --color=auto /tmp")
	require.Contains(t, toks.Words, "-la")
	require.Contains(t, toks.Words, "--color=auto")
}

func TestTokenizeQuoting(t *testing.T) {
	toks := Tokenize(`echo "hello world"`)
	require.Contains(t, toks.Words, "hello")
	require.Contains(t, toks.Words, "world")
}

func TestTokenizeMalformedFallsBackToWhitespaceSplit(t *testing.T) {
	toks := Tokenize(`echo "unterminated`)
	require.True(t, toks.Malformed)
	require.Equal(t, []string{"echo", `"unterminated`}, toks.Words)
}

func TestTokenizeEmptyYieldsZeroTokens(t *testing.T) {
	toks := Tokenize("   ")
	require.Empty(t, toks.Words)
}

func TestTokenizeKeepsSeparatorsAsOwnTokens(t *testing.T) {
	toks := Tokenize("foo=bar")
	require.Equal(t, []string{"foo", "=", "bar"}, toks.Words)
}
