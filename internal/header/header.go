// Package header reads and writes the object-like #define headers that the
// sensor firmware is compiled against.
//
// Only the subset of the preprocessor that such headers use is accepted:
// object-like defines with a string literal, a decimal integer or no value,
// line and block comments, include guards and #pragma once. Anything else is
// reported as a syntax error so that a header is never half-understood.
package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	// ErrSyntax is returned for lines the parser does not understand.
	ErrSyntax = errors.New("syntax error")
	// ErrDuplicate is returned when a macro is defined more than once.
	ErrDuplicate = errors.New("duplicate define")
	// ErrLiteral is returned for values that are not a well-formed literal.
	ErrLiteral = errors.New("malformed literal")
)

// Kind is the literal type of a define's value.
type Kind int

const (
	// KindFlag is a define without a value.
	KindFlag Kind = iota
	// KindString is a (possibly concatenated) string literal.
	KindString
	// KindInt is a decimal integer literal.
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Define is a single object-like macro.
type Define struct {
	Name string
	Kind Kind
	Str  string // decoded value when Kind == KindString
	Int  int64  // value when Kind == KindInt
	Line int    // 1-based source line, 0 for defines built in code

	// Comment holds the // lines directly above the define, without the
	// leading slashes.
	Comment []string
}

// StringDefine builds a string-valued define.
func StringDefine(name, value string, comment ...string) Define {
	return Define{Name: name, Kind: KindString, Str: value, Comment: comment}
}

// IntDefine builds an integer-valued define.
func IntDefine(name string, value int64, comment ...string) Define {
	return Define{Name: name, Kind: KindInt, Int: value, Comment: comment}
}

// Value returns the decoded value as text. Flags yield "".
func (d Define) Value() string {
	switch d.Kind {
	case KindString:
		return d.Str
	case KindInt:
		return fmt.Sprintf("%d", d.Int)
	default:
		return ""
	}
}

// Literal returns the value as it is written in a header.
func (d Define) Literal() string {
	switch d.Kind {
	case KindString:
		return quote(d.Str)
	case KindInt:
		return fmt.Sprintf("%d", d.Int)
	default:
		return ""
	}
}

// File is a parsed header.
type File struct {
	// Guard is the include-guard macro, empty when the header has none.
	Guard string
	// PragmaOnce records a #pragma once directive.
	PragmaOnce bool
	// Defines in source order, include guard excluded.
	Defines []Define
}

// Lookup returns the define with the given name.
func (f *File) Lookup(name string) (Define, bool) {
	for _, d := range f.Defines {
		if d.Name == name {
			return d, true
		}
	}
	return Define{}, false
}

// Add appends a define, rejecting duplicates.
func (f *File) Add(d Define) error {
	if prev, ok := f.Lookup(d.Name); ok {
		return fmt.Errorf("%w: %s (first defined on line %d)", ErrDuplicate, d.Name, prev.Line)
	}
	f.Defines = append(f.Defines, d)
	return nil
}

// Names returns the defined macro names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Defines))
	for _, d := range f.Defines {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Values maps every macro name to its decoded value.
func (f *File) Values() map[string]string {
	out := make(map[string]string, len(f.Defines))
	for _, d := range f.Defines {
		out[d.Name] = d.Value()
	}
	return out
}

// Parse reads a header from r.
func Parse(r io.Reader) (*File, error) {
	p := &parser{file: &File{}}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if p.inBlock {
		return nil, fmt.Errorf("line %d: %w: unterminated block comment", p.line, ErrSyntax)
	}
	if len(p.conds) > 0 {
		return nil, fmt.Errorf("line %d: %w: #ifndef %s without #endif", p.conds[len(p.conds)-1].line, ErrSyntax, p.conds[len(p.conds)-1].name)
	}
	return p.file, nil
}

// ParseString is Parse for in-memory headers.
func ParseString(s string) (*File, error) {
	return Parse(strings.NewReader(s))
}

type cond struct {
	name string
	line int
}

type parser struct {
	file    *File
	line    int
	inBlock bool
	pending []string // // comments waiting for the next define
	conds   []cond
	// guardCandidate is the #ifndef name seen on the previous directive.
	guardCandidate string
}

func (p *parser) parseLine(raw string) error {
	code, comment, err := p.splitComment(raw)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)

	if code == "" {
		switch {
		case comment != nil:
			p.pending = append(p.pending, *comment)
		case strings.TrimSpace(raw) == "":
			p.pending = nil
		}
		return nil
	}

	if !strings.HasPrefix(code, "#") {
		return fmt.Errorf("line %d: %w: unexpected text %q", p.line, ErrSyntax, code)
	}
	directive, rest := cutWord(strings.TrimSpace(code[1:]))

	candidate := p.guardCandidate
	p.guardCandidate = ""

	switch directive {
	case "define":
		return p.define(rest, candidate)
	case "ifndef":
		name, extra := cutWord(rest)
		if !isIdent(name) || extra != "" {
			return fmt.Errorf("line %d: %w: malformed #ifndef", p.line, ErrSyntax)
		}
		p.conds = append(p.conds, cond{name: name, line: p.line})
		if len(p.conds) == 1 && len(p.file.Defines) == 0 && p.file.Guard == "" {
			p.guardCandidate = name
		}
		p.pending = nil
		return nil
	case "endif":
		if len(p.conds) == 0 {
			return fmt.Errorf("line %d: %w: #endif without #ifndef", p.line, ErrSyntax)
		}
		p.conds = p.conds[:len(p.conds)-1]
		p.pending = nil
		return nil
	case "pragma":
		if strings.TrimSpace(rest) != "once" {
			return fmt.Errorf("line %d: %w: unsupported #pragma %s", p.line, ErrSyntax, rest)
		}
		p.file.PragmaOnce = true
		p.pending = nil
		return nil
	default:
		return fmt.Errorf("line %d: %w: unsupported directive #%s", p.line, ErrSyntax, directive)
	}
}

func (p *parser) define(rest, guardCandidate string) error {
	name, value := cutIdent(rest)
	if !isIdent(name) {
		return fmt.Errorf("line %d: %w: malformed #define", p.line, ErrSyntax)
	}
	if strings.HasPrefix(value, "(") {
		return fmt.Errorf("line %d: %w: function-like macro %s", p.line, ErrSyntax, name)
	}
	value = strings.TrimSpace(value)

	if name == guardCandidate && value == "" {
		p.file.Guard = name
		p.pending = nil
		return nil
	}
	if name == p.file.Guard {
		return fmt.Errorf("line %d: %w: %s is the include guard", p.line, ErrDuplicate, name)
	}
	if len(p.conds) > 1 || (len(p.conds) == 1 && p.conds[0].name != p.file.Guard) {
		return fmt.Errorf("line %d: %w: conditional define of %s", p.line, ErrSyntax, name)
	}

	d := Define{Name: name, Line: p.line, Comment: p.pending}
	p.pending = nil

	if err := parseValue(value, &d); err != nil {
		return fmt.Errorf("line %d: %s: %w", p.line, name, err)
	}
	if err := p.file.Add(d); err != nil {
		return fmt.Errorf("line %d: %w", p.line, err)
	}
	return nil
}

// splitComment strips comments from one line, tracking block comments that
// span lines. A line holding only a // comment yields its text.
func (p *parser) splitComment(raw string) (string, *string, error) {
	var code strings.Builder
	inString := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if p.inBlock {
			if c == '*' && i+1 < len(raw) && raw[i+1] == '/' {
				p.inBlock = false
				i++
				code.WriteByte(' ')
			}
			continue
		}
		if inString {
			code.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(raw) {
					i++
					code.WriteByte(raw[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			code.WriteByte(c)
		case c == '/' && i+1 < len(raw) && raw[i+1] == '/':
			text := strings.TrimSpace(raw[i+2:])
			if strings.TrimSpace(code.String()) != "" {
				return code.String(), nil, nil
			}
			return code.String(), &text, nil
		case c == '/' && i+1 < len(raw) && raw[i+1] == '*':
			p.inBlock = true
			i++
		default:
			code.WriteByte(c)
		}
	}
	if inString {
		return "", nil, fmt.Errorf("line %d: %w: unterminated string", p.line, ErrLiteral)
	}
	return code.String(), nil, nil
}

func parseValue(value string, d *Define) error {
	switch {
	case value == "":
		d.Kind = KindFlag
		return nil
	case strings.HasPrefix(value, `"`):
		s, err := unquoteConcat(value)
		if err != nil {
			return err
		}
		d.Kind = KindString
		d.Str = s
		return nil
	default:
		n, err := parseInt(value)
		if err != nil {
			return err
		}
		d.Kind = KindInt
		d.Int = n
		return nil
	}
}

func cutWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// cutIdent splits the macro name from the rest of a #define. The rest is not
// trimmed: a '(' directly after the name marks a function-like macro.
func cutIdent(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	i := 0
	for i < len(s) && isIdentByte(s[i], i == 0) {
		i++
	}
	return s[:i], s[i:]
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i], i == 0) {
			return false
		}
	}
	return true
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}
