package query

import (
	"fmt"
	"unicode"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// Option configures Parse.
type Option func(*parser)

// WithParallelism sets the parallelism of every AND and OR the parser builds.
func WithParallelism(n int) Option {
	return func(p *parser) {
		p.parallelism = n
	}
}

// Parse builds a query from an expression.
//
// Words are runs of letters, digits and underscores. Adjacent words, "AND",
// "&" and ";" mean AND; "OR" and "|" mean OR and bind loosest; parentheses
// group. The keywords are recognized in upper case only.
//
//	apple banana           files with both words
//	apple | pear           files with either word
//	(apple OR pear); tart  files with tart and apple or pear
func Parse(expr string, opts ...Option) (Query, error) {
	p := &parser{expr: expr}
	for _, opt := range opts {
		opt(p)
	}

	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fierrors.New(fierrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("pass at least one word, for example: apple AND pear")
	}
	p.toks = toks

	q, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, p.errorf("unexpected %s", p.toks[p.pos])
	}
	return q, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(expr string, opts ...Option) Query {
	q, err := Parse(expr, opts...)
	if err != nil {
		panic(err)
	}
	return q
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokAnd
	tokOr
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokWord {
		return fmt.Sprintf("word %q at %d", t.text, t.pos)
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func lex(expr string) ([]token, error) {
	var toks []token
	runes := []rune(expr)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokOpen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokClose, text: ")", pos: i})
			i++
		case r == '&' || r == ';':
			toks = append(toks, token{kind: tokAnd, text: string(r), pos: i})
			i++
		case r == '|':
			toks = append(toks, token{kind: tokOr, text: "|", pos: i})
			i++
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			switch word {
			case "AND":
				toks = append(toks, token{kind: tokAnd, text: word, pos: start})
			case "OR":
				toks = append(toks, token{kind: tokOr, text: word, pos: start})
			default:
				toks = append(toks, token{kind: tokWord, text: word, pos: start})
			}
		default:
			return nil, fierrors.QueryError(fmt.Sprintf("unexpected character %q at %d", r, i)).
				WithDetail("query", expr)
		}
	}
	return toks, nil
}

type parser struct {
	expr        string
	toks        []token
	pos         int
	parallelism int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) errorf(format string, args ...any) error {
	return fierrors.QueryError(fmt.Sprintf(format, args...)).WithDetail("query", p.expr)
}

// parseOr: and ( OR and )*
func (p *parser) parseOr() (Query, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	subs := []Query{first}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	if len(subs) == 1 {
		return first, nil
	}
	return Or(subs...).WithParallelism(p.parallelism), nil
}

// parseAnd: primary ( [AND] primary )*
func (p *parser) parseAnd() (Query, error) {
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	subs := []Query{first}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind == tokOr || tok.kind == tokClose {
			break
		}
		if tok.kind == tokAnd {
			p.pos++
		}
		next, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		subs = append(subs, next)
	}
	if len(subs) == 1 {
		return first, nil
	}
	return And(subs...).WithParallelism(p.parallelism), nil
}

// parsePrimary: word | ( or )
func (p *parser) parsePrimary() (Query, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.errorf("expected a word or '(' at end of query")
	}

	switch tok.kind {
	case tokWord:
		p.pos++
		return Has(tok.text), nil
	case tokOpen:
		p.pos++
		q, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokClose {
			return nil, p.errorf("missing ')' for '(' at %d", tok.pos)
		}
		p.pos++
		return q, nil
	default:
		return nil, p.errorf("expected a word or '(', got %s", tok)
	}
}
