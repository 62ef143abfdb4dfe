package content

import (
	"errors"
	"fmt"

	"github.com/pdforge/pdforge/pdf/generic"
)

// ErrMalformedContent reports content that cannot be tokenized.
var ErrMalformedContent = errors.New("malformed content stream")

// Parse tokenizes a decoded content stream into its operation sequence.
// Operands reuse the object grammar; any other token is taken as an
// operator, so operators introduced by later standards pass through
// untouched. Inline image payloads (BI..ID..EI) are not supported.
func Parse(data []byte) (*ContentStream, error) {
	p := generic.NewParser(data)
	cs := NewContentStream()
	var operands []generic.PdfObject

	for {
		p.SkipWhitespace()
		if p.Pos() >= len(data) {
			break
		}

		obj, word, err := nextToken(p, data)
		if err != nil {
			return nil, err
		}
		if word == "" {
			operands = append(operands, obj)
			continue
		}
		cs.Add(Operator(word), operands...)
		operands = nil
	}
	return cs, nil
}

// nextToken returns either an operand object or an operator word.
func nextToken(p *generic.Parser, data []byte) (generic.PdfObject, string, error) {
	c := data[p.Pos()]
	switch {
	case c == '/' || c == '(' || c == '[' || c == '<' ||
		c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		obj, err := p.ParseObject()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return obj, "", nil

	case c == 't' || c == 'f' || c == 'n':
		// true/false/null are operands; anything else starting with
		// these letters (f, n, f*, ...) is an operator.
		save := p.Pos()
		if obj, err := p.ParseObject(); err == nil {
			return obj, "", nil
		}
		p.Seek(save)

	case generic.IsDelimiter(c):
		return nil, "", fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedContent, c, p.Pos())
	}

	start := p.Pos()
	pos := start
	for pos < len(data) && generic.IsRegular(data[pos]) {
		pos++
	}
	if pos == start {
		return nil, "", fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedContent, c, start)
	}
	p.Seek(pos)
	return nil, string(data[start:pos]), nil
}
