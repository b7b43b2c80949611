package header

import (
	"fmt"
	"strconv"
	"strings"
)

// unquoteConcat decodes one or more adjacent C string literals.
func unquoteConcat(s string) (string, error) {
	var out strings.Builder
	rest := strings.TrimSpace(s)
	for rest != "" {
		if rest[0] != '"' {
			return "", fmt.Errorf("%w: unexpected %q after string", ErrLiteral, rest)
		}
		decoded, n, err := unquoteOne(rest)
		if err != nil {
			return "", err
		}
		out.WriteString(decoded)
		rest = strings.TrimSpace(rest[n:])
	}
	return out.String(), nil
}

// unquoteOne decodes the literal at the start of s and returns the number of
// bytes consumed, quotes included.
func unquoteOne(s string) (string, int, error) {
	var out strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return out.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("%w: dangling escape", ErrLiteral)
			}
			i++
			n, err := unescape(s[i:], &out)
			if err != nil {
				return "", 0, err
			}
			i += n - 1
		default:
			out.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrLiteral)
}

// unescape decodes the escape sequence at the start of s (the backslash
// already consumed) and returns how many bytes it used.
func unescape(s string, out *strings.Builder) (int, error) {
	switch s[0] {
	case '\\', '"', '\'', '?':
		out.WriteByte(s[0])
		return 1, nil
	case 'n':
		out.WriteByte('\n')
		return 1, nil
	case 'r':
		out.WriteByte('\r')
		return 1, nil
	case 't':
		out.WriteByte('\t')
		return 1, nil
	case 'a':
		out.WriteByte('\a')
		return 1, nil
	case 'b':
		out.WriteByte('\b')
		return 1, nil
	case 'f':
		out.WriteByte('\f')
		return 1, nil
	case 'v':
		out.WriteByte('\v')
		return 1, nil
	case 'x':
		n := 1
		for n < len(s) && n < 3 && isHex(s[n]) {
			n++
		}
		if n == 1 {
			return 0, fmt.Errorf("%w: \\x without hex digits", ErrLiteral)
		}
		if n < len(s) && isHex(s[n]) {
			return 0, fmt.Errorf("%w: \\x escape \\%s is out of range", ErrLiteral, s[:n+1])
		}
		v, _ := strconv.ParseUint(s[1:n], 16, 8)
		out.WriteByte(byte(v))
		return n, nil
	}
	if s[0] >= '0' && s[0] <= '7' {
		n := 0
		for n < len(s) && n < 3 && s[n] >= '0' && s[n] <= '7' {
			n++
		}
		v, _ := strconv.ParseUint(s[:n], 8, 16)
		if v > 0xff {
			return 0, fmt.Errorf("%w: octal escape \\%s out of range", ErrLiteral, s[:n])
		}
		out.WriteByte(byte(v))
		return n, nil
	}
	return 0, fmt.Errorf("%w: unknown escape \\%c", ErrLiteral, s[0])
}

// quote renders s as a C string literal. Control bytes use three-digit
// octal escapes so the following character can never extend the escape.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03o`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// parseInt accepts an optionally parenthesised, optionally signed decimal
// literal. Suffixes, hex and octal forms are rejected.
func parseInt(s string) (int64, error) {
	v := strings.TrimSpace(s)
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(v, "-"), "+")
	if digits == "" {
		return 0, fmt.Errorf("%w: %q is not a decimal integer", ErrLiteral, s)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: %q is not a decimal integer", ErrLiteral, s)
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, fmt.Errorf("%w: %q has a leading zero (octal is not supported)", ErrLiteral, s)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrLiteral, s, err)
	}
	return n, nil
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
