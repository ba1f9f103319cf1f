package ontology

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Parse reads an ontology document in the Turtle serialization and returns
// its statements.
//
// The supported subset covers prefix and base directives, IRIs, prefixed
// names, the "a" keyword, predicate lists (";"), object lists (",") and
// literals with language tags or datatypes. Blank nodes, collections and OWL
// class expressions are reported as *UnsupportedConstructError; syntax errors
// as *MalformedDocumentError.
func Parse(document string) (*TripleStore, error) {
	p := &parser{
		lex: lexer{src: document, line: 1, col: 1},
		store: &TripleStore{
			Prefixes: map[string]string{},
		},
	}
	for k, v := range defaultPrefixes {
		p.store.Prefixes[k] = v
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.kind != tokEOF {
		if err := p.statement(); err != nil {
			return nil, err
		}
	}
	return p.store, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPName
	tokString
	tokLangTag
	tokDatatype
	tokNumber
	tokKeyword
	tokDirective
	tokPunct
	tokBlank
)

type token struct {
	kind tokenKind
	text string
	pos  Position
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func (l *lexer) pos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.off}
}

func (l *lexer) errorf(pos Position, format string, args ...any) error {
	return &MalformedDocumentError{
		Line:   pos.Line,
		Column: pos.Column,
		Offset: pos.Offset,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (l *lexer) peekByte(ahead int) byte {
	if l.off+ahead >= len(l.src) {
		return 0
	}
	return l.src[l.off+ahead]
}

func (l *lexer) step() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	l.off += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpace() {
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.step()
		case c == '#':
			for l.off < len(l.src) && l.src[l.off] != '\n' {
				l.step()
			}
		default:
			return
		}
	}
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':' || c == '%' || c >= 0x80
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos()
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.src[l.off]
	switch {
	case c == '<':
		l.step()
		var b strings.Builder
		for {
			if l.off >= len(l.src) {
				return token{}, l.errorf(start, "unterminated IRI")
			}
			r := l.step()
			if r == '>' {
				break
			}
			if r == '\n' || r == ' ' || r == '<' {
				return token{}, l.errorf(start, "invalid character %q in IRI", r)
			}
			b.WriteRune(r)
		}
		return token{kind: tokIRI, text: b.String(), pos: start}, nil

	case c == '"' || c == '\'':
		return l.lexString(start, c)

	case c == '@':
		l.step()
		word := l.word()
		switch word {
		case "prefix", "base":
			return token{kind: tokDirective, text: word, pos: start}, nil
		case "":
			return token{}, l.errorf(start, "expected language tag or directive after '@'")
		default:
			return token{kind: tokLangTag, text: word, pos: start}, nil
		}

	case c == '^':
		if l.peekByte(1) != '^' {
			return token{}, l.errorf(start, "expected '^^'")
		}
		l.step()
		l.step()
		return token{kind: tokDatatype, text: "^^", pos: start}, nil

	case c == '_' && l.peekByte(1) == ':':
		l.step()
		l.step()
		return token{kind: tokBlank, text: "_:" + l.word(), pos: start}, nil

	case c == '.' || c == ';' || c == ',' || c == '[' || c == ']' || c == '(' || c == ')':
		if c == '.' && l.peekByte(1) >= '0' && l.peekByte(1) <= '9' {
			return l.lexNumber(start)
		}
		l.step()
		return token{kind: tokPunct, text: string(c), pos: start}, nil

	case c == '+' || c == '-' || c >= '0' && c <= '9':
		return l.lexNumber(start)

	case isNameChar(c):
		word := l.name()
		if strings.Contains(word, ":") {
			return token{kind: tokPName, text: word, pos: start}, nil
		}
		switch word {
		case "a", "true", "false":
			return token{kind: tokKeyword, text: word, pos: start}, nil
		}
		switch strings.ToUpper(word) {
		case "PREFIX", "BASE":
			return token{kind: tokKeyword, text: strings.ToUpper(word), pos: start}, nil
		}
		return token{}, l.errorf(start, "unexpected word %q", word)
	}

	return token{}, l.errorf(start, "unexpected character %q", c)
}

// word scans a language tag or blank node label.
func (l *lexer) word() string {
	s := l.off
	for l.off < len(l.src) {
		c := l.src[l.off]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			break
		}
		l.step()
	}
	return l.src[s:l.off]
}

// name scans a prefixed name or keyword. A trailing '.' terminates the
// statement and is not part of the name.
func (l *lexer) name() string {
	s := l.off
	end := s
	for end < len(l.src) && isNameChar(l.src[end]) {
		end++
	}
	for end > s && l.src[end-1] == '.' {
		end--
	}
	for l.off < end {
		l.step()
	}
	return l.src[s:end]
}

func (l *lexer) lexNumber(start Position) (token, error) {
	s := l.off
	if c := l.peekByte(0); c == '+' || c == '-' {
		l.step()
	}
	digits := 0
	for c := l.peekByte(0); c >= '0' && c <= '9'; c = l.peekByte(0) {
		l.step()
		digits++
	}
	if l.peekByte(0) == '.' && l.peekByte(1) >= '0' && l.peekByte(1) <= '9' {
		l.step()
		for c := l.peekByte(0); c >= '0' && c <= '9'; c = l.peekByte(0) {
			l.step()
			digits++
		}
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		l.step()
		if c := l.peekByte(0); c == '+' || c == '-' {
			l.step()
		}
		for c := l.peekByte(0); c >= '0' && c <= '9'; c = l.peekByte(0) {
			l.step()
		}
	}
	if digits == 0 {
		return token{}, l.errorf(start, "invalid number")
	}
	return token{kind: tokNumber, text: l.src[s:l.off], pos: start}, nil
}

func (l *lexer) lexString(start Position, quote byte) (token, error) {
	long := l.peekByte(1) == quote && l.peekByte(2) == quote
	if long {
		l.step()
		l.step()
		l.step()
	} else {
		l.step()
	}

	var b strings.Builder
	for {
		if l.off >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string literal")
		}
		c := l.src[l.off]
		if c == quote {
			if !long {
				l.step()
				break
			}
			if l.peekByte(1) == quote && l.peekByte(2) == quote {
				l.step()
				l.step()
				l.step()
				break
			}
		}
		if c == '\n' && !long {
			return token{}, l.errorf(start, "newline in string literal")
		}
		if c == '\\' {
			escPos := l.pos()
			l.step()
			r, err := l.escape(escPos)
			if err != nil {
				return token{}, err
			}
			b.WriteRune(r)
			continue
		}
		b.WriteRune(l.step())
	}
	return token{kind: tokString, text: b.String(), pos: start}, nil
}

func (l *lexer) escape(pos Position) (rune, error) {
	if l.off >= len(l.src) {
		return 0, l.errorf(pos, "unterminated escape sequence")
	}
	c := l.step()
	switch c {
	case 't':
		return '\t', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case '"', '\'', '\\':
		return c, nil
	case 'u', 'U':
		n := 4
		if c == 'U' {
			n = 8
		}
		if l.off+n > len(l.src) {
			return 0, l.errorf(pos, "short unicode escape")
		}
		var v rune
		for range n {
			h := l.step()
			switch {
			case h >= '0' && h <= '9':
				v = v<<4 | (h - '0')
			case h >= 'a' && h <= 'f':
				v = v<<4 | (h - 'a' + 10)
			case h >= 'A' && h <= 'F':
				v = v<<4 | (h - 'A' + 10)
			default:
				return 0, l.errorf(pos, "invalid hex digit %q in unicode escape", h)
			}
		}
		return v, nil
	}
	return 0, l.errorf(pos, "invalid escape sequence \\%c", c)
}

type parser struct {
	lex   lexer
	tok   token
	base  string
	store *TripleStore
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return p.lex.errorf(p.tok.pos, format, args...)
}

func (p *parser) unsupported(construct string, pos Position) error {
	return &UnsupportedConstructError{
		Construct: construct,
		Line:      pos.Line,
		Column:    pos.Column,
		Offset:    pos.Offset,
	}
}

func (p *parser) expectPunct(punct string) error {
	if p.tok.kind != tokPunct || p.tok.text != punct {
		return p.errorf("expected %q, found %q", punct, p.tok.text)
	}
	return p.advance()
}

func (p *parser) statement() error {
	switch {
	case p.tok.kind == tokDirective:
		directive := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.directive(directive); err != nil {
			return err
		}
		return p.expectPunct(".")
	case p.tok.kind == tokKeyword && (p.tok.text == "PREFIX" || p.tok.text == "BASE"):
		directive := strings.ToLower(p.tok.text)
		if err := p.advance(); err != nil {
			return err
		}
		return p.directive(directive)
	}

	subject, pos, err := p.subject()
	if err != nil {
		return err
	}
	if err := p.predicateObjectList(subject, pos); err != nil {
		return err
	}
	return p.expectPunct(".")
}

func (p *parser) directive(kind string) error {
	if kind == "prefix" {
		if p.tok.kind != tokPName || !strings.HasSuffix(p.tok.text, ":") {
			return p.errorf("expected prefix name, found %q", p.tok.text)
		}
		prefix := strings.TrimSuffix(p.tok.text, ":")
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.kind != tokIRI {
			return p.errorf("expected IRI for prefix %q", prefix)
		}
		p.store.Prefixes[prefix] = p.resolve(p.tok.text)
		return p.advance()
	}

	if p.tok.kind != tokIRI {
		return p.errorf("expected IRI for base")
	}
	p.base = p.resolve(p.tok.text)
	return p.advance()
}

func (p *parser) resolve(iri string) string {
	if p.base == "" {
		return iri
	}
	ref, err := url.Parse(iri)
	if err != nil || ref.IsAbs() {
		return iri
	}
	base, err := url.Parse(p.base)
	if err != nil {
		return iri
	}
	return base.ResolveReference(ref).String()
}

func (p *parser) iri() (Term, error) {
	switch p.tok.kind {
	case tokIRI:
		t := IRI(p.resolve(p.tok.text))
		return t, p.advance()
	case tokPName:
		prefix, local, _ := strings.Cut(p.tok.text, ":")
		ns, ok := p.store.Prefixes[prefix]
		if !ok {
			return Term{}, p.errorf("undefined prefix %q", prefix)
		}
		t := IRI(ns + local)
		return t, p.advance()
	}
	return Term{}, p.errorf("expected IRI, found %q", p.tok.text)
}

func (p *parser) blankOrCollection() error {
	switch {
	case p.tok.kind == tokBlank:
		return p.unsupported("blank node "+p.tok.text, p.tok.pos)
	case p.tok.kind == tokPunct && p.tok.text == "[":
		return p.unsupported("anonymous blank node", p.tok.pos)
	case p.tok.kind == tokPunct && p.tok.text == "(":
		return p.unsupported("collection", p.tok.pos)
	}
	return nil
}

func (p *parser) subject() (Term, Position, error) {
	pos := p.tok.pos
	if err := p.blankOrCollection(); err != nil {
		return Term{}, pos, err
	}
	t, err := p.iri()
	return t, pos, err
}

func (p *parser) predicateObjectList(subject Term, pos Position) error {
	for {
		verbPos := p.tok.pos
		var verb Term
		if p.tok.kind == tokKeyword && p.tok.text == "a" {
			verb = IRI(RDFType)
			if err := p.advance(); err != nil {
				return err
			}
		} else {
			var err error
			verb, err = p.iri()
			if err != nil {
				return err
			}
		}
		if name, ok := unsupportedTerms[verb.Value]; ok {
			return p.unsupported(name, verbPos)
		}

		for {
			objPos := p.tok.pos
			obj, err := p.object()
			if err != nil {
				return err
			}
			if name, ok := unsupportedTerms[obj.Value]; ok && obj.Kind == TermIRI {
				return p.unsupported(name, objPos)
			}
			p.store.Triples = append(p.store.Triples, Triple{
				Subject:   subject,
				Predicate: verb,
				Object:    obj,
				Pos:       pos,
			})
			if p.tok.kind != tokPunct || p.tok.text != "," {
				break
			}
			if err := p.advance(); err != nil {
				return err
			}
		}

		if p.tok.kind != tokPunct || p.tok.text != ";" {
			return nil
		}
		for p.tok.kind == tokPunct && p.tok.text == ";" {
			if err := p.advance(); err != nil {
				return err
			}
		}
		if p.tok.kind == tokPunct && (p.tok.text == "." || p.tok.text == "]") {
			return nil
		}
	}
}

func (p *parser) object() (Term, error) {
	if err := p.blankOrCollection(); err != nil {
		return Term{}, err
	}

	switch p.tok.kind {
	case tokIRI, tokPName:
		return p.iri()
	case tokNumber:
		t := Term{Kind: TermLiteral, Value: p.tok.text, Datatype: numberType(p.tok.text)}
		return t, p.advance()
	case tokKeyword:
		if p.tok.text == "true" || p.tok.text == "false" {
			t := Term{Kind: TermLiteral, Value: p.tok.text, Datatype: XSDNS + "boolean"}
			return t, p.advance()
		}
	case tokString:
		t := Term{Kind: TermLiteral, Value: p.tok.text}
		if err := p.advance(); err != nil {
			return Term{}, err
		}
		switch p.tok.kind {
		case tokLangTag:
			t.Lang = p.tok.text
			return t, p.advance()
		case tokDatatype:
			if err := p.advance(); err != nil {
				return Term{}, err
			}
			dt, err := p.iri()
			if err != nil {
				return Term{}, err
			}
			t.Datatype = dt.Value
		}
		return t, nil
	}
	return Term{}, p.errorf("expected object, found %q", p.tok.text)
}

func numberType(lit string) string {
	switch {
	case strings.ContainsAny(lit, "eE"):
		return XSDNS + "double"
	case strings.Contains(lit, "."):
		return XSDNS + "decimal"
	default:
		return XSDNS + "integer"
	}
}
