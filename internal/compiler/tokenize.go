package compiler

import "unicode"

// Tokenize splits a command string on whitespace. A run opened by a single or
// double quote extends to the matching quote of the same character and is kept
// as one token with its quotes. There is no escape character; an unterminated
// quote consumes the rest of the input. Empty tokens are dropped.
func Tokenize(s string) []string {
	var (
		tokens  []string
		current []rune
		quote   rune
	)

	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, string(current))
			current = current[:0]
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			current = append(current, r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current = append(current, r)
		case unicode.IsSpace(r):
			flush()
		default:
			current = append(current, r)
		}
	}
	flush()

	return tokens
}
