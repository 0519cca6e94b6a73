package runner

import (
	"strings"

	"github.com/deixis/steward/internal/feed"
)

// Signatures lists output fragments that mark a run as failed even when the
// process exits zero. Some tools (timeshift, ufw) report logical failures
// only in their output.
type Signatures struct {
	Stdout []string
	Stderr []string
}

// Empty reports whether no signature is registered.
func (s Signatures) Empty() bool {
	return len(s.Stdout) == 0 && len(s.Stderr) == 0
}

// Match is a failure signature found in captured output.
type Match struct {
	Signature string
	Stream    feed.Stream
}

// MatchSignature returns the first registered signature contained in the
// captured output. Stderr signatures are checked before stdout ones.
func MatchSignature(stdout, stderr string, sig Signatures) (Match, bool) {
	for _, s := range sig.Stderr {
		if s != "" && strings.Contains(stderr, s) {
			return Match{Signature: s, Stream: feed.Stderr}, true
		}
	}
	for _, s := range sig.Stdout {
		if s != "" && strings.Contains(stdout, s) {
			return Match{Signature: s, Stream: feed.Stdout}, true
		}
	}
	return Match{}, false
}

// Classify decides whether a finished command succeeded. A non-zero exit
// code always fails; a zero exit fails only when a failure signature is
// present. Output is never able to turn a failure into a success.
func Classify(stdout, stderr string, exitCode int, sig Signatures) bool {
	if exitCode != 0 {
		return false
	}
	_, matched := MatchSignature(stdout, stderr, sig)
	return !matched
}
