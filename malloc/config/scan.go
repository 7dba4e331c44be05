package config

import "github.com/joshuapare/mallockit/internal/diag"

// Tokenizer diagnostics. Exported so tests can assert the exact wording.
const (
	DiagEndsWithKey   = "conf string ends with key"
	DiagEndsWithComma = "conf string ends with comma"
	DiagMalformed     = "malformed conf string"
)

// scanner walks one conf source string, yielding key/value pairs.
type scanner struct {
	s   string
	pos int
}

// next returns the next key/value pair. ok is false when the string is
// exhausted, whether cleanly or after a diagnosed syntax error; a diagnosed
// trailing comma still yields the pair that preceded it.
func (sc *scanner) next() (key, value string, ok bool) {
	if sc.pos >= len(sc.s) {
		return "", "", false
	}

	start := sc.pos
	for {
		if sc.pos == len(sc.s) {
			if sc.pos != start {
				diag.Write(DiagEndsWithKey)
			}
			return "", "", false
		}
		c := sc.s[sc.pos]
		if isKeyByte(c) {
			sc.pos++
			continue
		}
		if c == ':' {
			key = sc.s[start:sc.pos]
			sc.pos++
			break
		}
		diag.Write(DiagMalformed)
		sc.pos = len(sc.s)
		return "", "", false
	}

	start = sc.pos
	for {
		if sc.pos == len(sc.s) {
			value = sc.s[start:sc.pos]
			return key, value, true
		}
		if sc.s[sc.pos] == ',' {
			value = sc.s[start:sc.pos]
			sc.pos++
			// The comma is consumed optimistically; if nothing follows
			// it, the next call would otherwise mistake the consumed
			// comma for a clean end of input.
			if sc.pos == len(sc.s) {
				diag.Write(DiagEndsWithComma)
			}
			return key, value, true
		}
		sc.pos++
	}
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_'
}
