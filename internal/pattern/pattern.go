package pattern

import (
	"errors"
	"strings"
)

// Delimiter separates topic tokens.
const Delimiter = "."

// Wildcard tokens.
const (
	SingleWildcard = "*"
	MultiWildcard  = ">"
)

// Validation errors. Compile wraps these in ErrInvalidPattern-style messages
// at the call sites that need a single sentinel.
var (
	ErrEmptyPattern         = errors.New("pattern cannot be empty")
	ErrEmptyToken           = errors.New("pattern contains empty token")
	ErrCombinedWildcard     = errors.New("wildcard cannot be combined with text in the same token")
	ErrMultiWildcardNotLast = errors.New("multi-token wildcard '>' must be the last token")
	ErrMixedWildcards       = errors.New("pattern cannot contain both '*' and '>' wildcards")
)

// Pattern is a compiled subscription expression over dot-delimited topics.
//
// Matching is token-level: "*" consumes exactly one topic token, ">" consumes
// one or more trailing tokens. A pattern without wildcards matches only the
// identical topic.
type Pattern struct {
	raw    string
	tokens []string
	// exact is true when the pattern carries no wildcards; Matches then
	// reduces to a string comparison.
	exact bool
	// multi is true when the final token is ">".
	multi bool
}

// Compile validates expr and returns its compiled form.
func Compile(expr string) (Pattern, error) {
	if expr == "" {
		return Pattern{}, ErrEmptyPattern
	}
	tokens := strings.Split(expr, Delimiter)
	hasSingle, hasMulti := false, false
	for i, tok := range tokens {
		if tok == "" {
			return Pattern{}, ErrEmptyToken
		}
		switch tok {
		case SingleWildcard:
			hasSingle = true
		case MultiWildcard:
			hasMulti = true
			if i != len(tokens)-1 {
				return Pattern{}, ErrMultiWildcardNotLast
			}
		default:
			if strings.ContainsAny(tok, SingleWildcard+MultiWildcard) {
				return Pattern{}, ErrCombinedWildcard
			}
		}
	}
	if hasSingle && hasMulti {
		return Pattern{}, ErrMixedWildcards
	}
	return Pattern{
		raw:    expr,
		tokens: tokens,
		exact:  !hasSingle && !hasMulti,
		multi:  hasMulti,
	}, nil
}

// MustCompile is like Compile but panics on invalid input. For tests and
// compile-time-constant expressions only.
func MustCompile(expr string) Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate reports whether expr is a legal pattern.
func Validate(expr string) error {
	_, err := Compile(expr)
	return err
}

// String returns the original expression.
func (p Pattern) String() string { return p.raw }

// IsPattern reports whether the expression carries wildcards. Exact
// expressions allow O(1) subscriber lookup by topic.
func (p Pattern) IsPattern() bool { return !p.exact }

// Matches reports whether topic matches the pattern. Deterministic and pure.
func (p Pattern) Matches(topic string) bool {
	if p.raw == "" {
		return false
	}
	if p.exact {
		return topic == p.raw
	}
	tts := strings.Split(topic, Delimiter)
	if p.multi {
		// Tokens before ">" are literals; ">" then requires at least one
		// remaining topic token.
		prefix := p.tokens[:len(p.tokens)-1]
		if len(tts) < len(prefix)+1 {
			return false
		}
		for i, tok := range prefix {
			if tok != tts[i] {
				return false
			}
		}
		return true
	}
	if len(tts) != len(p.tokens) {
		return false
	}
	for i, tok := range p.tokens {
		if tok == SingleWildcard {
			continue
		}
		if tok != tts[i] {
			return false
		}
	}
	return true
}

// MatchTopic is a convenience for one-shot matching of an uncompiled
// expression. Callers that match repeatedly should Compile once.
func MatchTopic(expr, topic string) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Matches(topic), nil
}
