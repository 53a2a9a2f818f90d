// Package tokenize splits a shell command into a deterministic token
// stream, per spec.md §4.C. The stream respects single/double quoting,
// keeps flag tokens (tokens starting with "-") whole, and splits the
// remainder on non-word characters while keeping each separator as its
// own token. It backs the embedding model, fingerprint generation, and
// FTS normalization.
package tokenize

import (
	"strings"
	"unicode"

	"github.com/google/shlex"
)

// Tokens is the result of tokenizing a command.
type Tokens struct {
	// Words is the deterministic token stream.
	Words []string
	// Malformed is true when the input could not be parsed with full
	// shell-quoting semantics (e.g. an unterminated quote) and the
	// fallback whitespace split was used instead.
	Malformed bool
}

// isWordChar reports whether r should be kept inside a run of "word"
// characters rather than emitted as its own separator token.
func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '/' || r == ':' || r == '@' || r == '~'
}

// Tokenize splits command into tokens. It never panics or returns an
// error: malformed input (an unterminated quote) is tokenized by the
// defined fallback (whitespace split) and flagged via Tokens.Malformed,
// per spec.md §4.C.
func Tokenize(command string) Tokens {
	shellWords, err := shlex.Split(command)
	if err != nil {
		return Tokens{Words: fallbackSplit(command), Malformed: true}
	}

	words := make([]string, 0, len(shellWords)*2)
	for _, w := range shellWords {
		words = append(words, splitWord(w)...)
	}
	return Tokens{Words: words}
}

// splitWord expands a single shlex word into sub-tokens: a flag token
// (leading "-") is kept whole; anything else is split on non-word
// characters, with each separator run kept as its own token.
func splitWord(w string) []string {
	if w == "" {
		return nil
	}
	if strings.HasPrefix(w, "-") {
		return []string{w}
	}

	var out []string
	var run strings.Builder
	runIsWord := false
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for i, r := range w {
		wordChar := isWordChar(r)
		if i == 0 {
			runIsWord = wordChar
		}
		if wordChar != runIsWord {
			flush()
			runIsWord = wordChar
		}
		run.WriteRune(r)
	}
	flush()
	return out
}

// fallbackSplit is the defined recovery path for unterminated quotes:
// plain whitespace splitting.
func fallbackSplit(command string) []string {
	return strings.Fields(command)
}
