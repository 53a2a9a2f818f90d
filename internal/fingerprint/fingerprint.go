// Package fingerprint derives the stable, masked command-shape identifier
// described in spec.md §3 ("Fingerprint"): a hash over the tokenized form
// of a command with argument values replaced by type placeholders
// (paths -> ⟨PATH⟩, integers -> ⟨N⟩, everything else -> ⟨ARG⟩), used to
// aggregate statistics across runs of the same invocation shape. The slot
// set mirrors the teacher's normalize.Normalizer (<path>, <num>, <sha>,
// <url>, <arg>), generalized here to mask every non-flag argument rather
// than leave unmatched tokens literal — required for two invocations that
// differ only in a free-form value (a commit message, a script name) to
// still resolve to one fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/cmdsense/suggestd/internal/tokenize"
)

// Placeholders mirror spec.md §3's examples, extended with the teacher's
// remaining slot types so no non-flag argument token is ever left
// unmasked.
const (
	PlaceholderPath = "⟨PATH⟩"
	PlaceholderNum  = "⟨N⟩"
	PlaceholderSHA  = "⟨SHA⟩"
	PlaceholderURL  = "⟨URL⟩"
	PlaceholderArg  = "⟨ARG⟩"
)

var (
	numPattern  = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	pathPattern = regexp.MustCompile(`^(?:/|\./|\.\./|~)`)
	shaPattern  = regexp.MustCompile(`(?i)^[0-9a-f]{7,40}$`)
	urlPattern  = regexp.MustCompile(`^(?:https?://|git@[^:]+:)`)
	envPattern  = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_]*$`)
)

// Fingerprint is a masked invocation shape plus its stable hash.
type Fingerprint struct {
	// Masked is the human-readable masked token sequence, e.g.
	// "git checkout ⟨PATH⟩".
	Masked string
	// Hash is the stable hex-encoded SHA-256 of Masked, used as the
	// fingerprint identifier in storage.
	Hash string
}

// Of computes the Fingerprint for a raw command string. Tokens that begin
// with "-" (flags) are never masked — they are part of the invocation
// shape. A command whose tokenization yields zero tokens produces an
// empty masked form and is treated by callers as "noise" per spec.md §8's
// boundary behavior.
func Of(command string) Fingerprint {
	toks := tokenize.Tokenize(command).Words
	masked := make([]string, 0, len(toks))
	sawSubcommand := false
	for i, tok := range toks {
		masked = append(masked, maskToken(tok, i, &sawSubcommand))
	}
	m := strings.Join(masked, " ")
	sum := sha256.Sum256([]byte(m))
	return Fingerprint{Masked: m, Hash: hex.EncodeToString(sum[:])}
}

// maskToken replaces an argument value with its type placeholder. The
// first token (the command verb) and flag tokens are never masked.
// Every typed value — sha/url/path/num, or an env var reference kept
// literal since it names a variable rather than a value — is masked to
// its placeholder regardless of position, mirroring the teacher's
// detectSlotType. A bare token that matches none of those typed
// patterns falls to one of two treatments: the *first* such token
// following the verb is the subcommand (git status vs. git stash, ps vs.
// -a) and is kept literal, the same distinction the teacher's
// consumeSubcommand makes before its generic positional-token masking
// runs; sawSubcommand tracks whether that one slot has already been
// claimed. Every untyped bare token after that still masks to the
// generic PlaceholderArg, so two invocations differing only in a
// free-form value (a commit message, a script name) still resolve to one
// fingerprint.
func maskToken(tok string, index int, sawSubcommand *bool) string {
	if index == 0 || strings.HasPrefix(tok, "-") {
		return tok
	}
	switch {
	case shaPattern.MatchString(tok):
		return PlaceholderSHA
	case urlPattern.MatchString(tok):
		return PlaceholderURL
	case pathPattern.MatchString(tok) || strings.Contains(tok, "/"):
		return PlaceholderPath
	case numPattern.MatchString(tok):
		return PlaceholderNum
	case envPattern.MatchString(tok):
		return tok
	}
	if !*sawSubcommand {
		*sawSubcommand = true
		return tok
	}
	return PlaceholderArg
}
