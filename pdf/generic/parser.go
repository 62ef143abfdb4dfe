package generic

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Parser errors.
var (
	ErrInvalidObject = errors.New("invalid PDF object")
	ErrUnexpectedEOF = errors.New("unexpected end of input")
	ErrInvalidStream = errors.New("invalid stream object")
)

// Parser reads PDF objects from a byte slice. It is positioned explicitly
// by the caller (the cross-reference table supplies offsets) and advances
// as objects are consumed.
type Parser struct {
	data []byte
	pos  int

	// ResolveLength, when set, resolves an indirect /Length value while
	// parsing a stream. Without it (or when resolution fails) the parser
	// falls back to scanning for the endstream keyword.
	ResolveLength func(ref Reference) (int64, bool)
}

// NewParser creates a parser over data starting at offset 0.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Pos returns the current offset.
func (p *Parser) Pos() int { return p.pos }

// Seek positions the parser at offset pos.
func (p *Parser) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(p.data) {
		pos = len(p.data)
	}
	p.pos = pos
}

func (p *Parser) atEOF() bool { return p.pos >= len(p.data) }

func (p *Parser) peek() byte {
	if p.atEOF() {
		return 0
	}
	return p.data[p.pos]
}

// SkipWhitespace advances past whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for !p.atEOF() {
		c := p.data[p.pos]
		if IsWhitespace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for !p.atEOF() && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		break
	}
}

// readToken consumes a run of regular characters.
func (p *Parser) readToken() string {
	start := p.pos
	for !p.atEOF() && IsRegular(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// expectKeyword consumes kw or fails without advancing.
func (p *Parser) expectKeyword(kw string) error {
	p.SkipWhitespace()
	if p.pos+len(kw) > len(p.data) || string(p.data[p.pos:p.pos+len(kw)]) != kw {
		return fmt.Errorf("%w: expected %q at offset %d", ErrInvalidObject, kw, p.pos)
	}
	p.pos += len(kw)
	return nil
}

// ParseObject parses the next object, resolving "N G R" sequences to
// Reference values.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()
	if p.atEOF() {
		return nil, ErrUnexpectedEOF
	}

	switch c := p.peek(); {
	case c == '/':
		return p.parseName()
	case c == '(':
		return p.parseLiteralString()
	case c == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			return p.parseDictionary()
		}
		return p.parseHexString()
	case c == '[':
		return p.parseArray()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumberOrReference()
	case c == 't' || c == 'f' || c == 'n':
		return p.parseKeyword()
	}
	return nil, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrInvalidObject, p.peek(), p.pos)
}

func (p *Parser) parseKeyword() (PdfObject, error) {
	start := p.pos
	switch tok := p.readToken(); tok {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	default:
		p.pos = start
		return nil, fmt.Errorf("%w: unknown keyword %q at offset %d", ErrInvalidObject, tok, start)
	}
}

func (p *Parser) parseName() (PdfObject, error) {
	p.pos++ // '/'
	var buf bytes.Buffer
	for !p.atEOF() {
		c := p.data[p.pos]
		if !IsRegular(c) {
			break
		}
		if c == '#' && p.pos+2 < len(p.data) {
			hi := hexVal(p.data[p.pos+1])
			lo := hexVal(p.data[p.pos+2])
			if hi >= 0 && lo >= 0 {
				buf.WriteByte(byte(hi<<4 | lo))
				p.pos += 3
				continue
			}
		}
		buf.WriteByte(c)
		p.pos++
	}
	return NameObject(buf.String()), nil
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func (p *Parser) parseLiteralString() (PdfObject, error) {
	p.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if p.atEOF() {
			return nil, fmt.Errorf("%w: unterminated string", ErrUnexpectedEOF)
		}
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '\\':
			if p.atEOF() {
				return nil, fmt.Errorf("%w: dangling escape", ErrUnexpectedEOF)
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '(', ')', '\\':
				buf.WriteByte(e)
			case '\r':
				// Escaped EOL continues the string.
				if !p.atEOF() && p.data[p.pos] == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for n := 0; n < 2 && !p.atEOF(); n++ {
						d := p.data[p.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v<<3 | int(d-'0')
						p.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return &StringObject{Value: buf.Bytes()}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
		}
	}
}

func (p *Parser) parseHexString() (PdfObject, error) {
	p.pos++ // '<'
	var buf bytes.Buffer
	hi := -1
	for {
		if p.atEOF() {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrUnexpectedEOF)
		}
		c := p.data[p.pos]
		p.pos++
		if c == '>' {
			break
		}
		if IsWhitespace(c) {
			continue
		}
		v := hexVal(c)
		if v < 0 {
			return nil, fmt.Errorf("%w: bad hex digit %q", ErrInvalidObject, c)
		}
		if hi < 0 {
			hi = v
		} else {
			buf.WriteByte(byte(hi<<4 | v))
			hi = -1
		}
	}
	// An odd final digit is padded with zero.
	if hi >= 0 {
		buf.WriteByte(byte(hi << 4))
	}
	return &StringObject{Value: buf.Bytes(), IsHex: true}, nil
}

func (p *Parser) parseArray() (PdfObject, error) {
	p.pos++ // '['
	arr := ArrayObject{}
	for {
		p.SkipWhitespace()
		if p.atEOF() {
			return nil, fmt.Errorf("%w: unterminated array", ErrUnexpectedEOF)
		}
		if p.peek() == ']' {
			p.pos++
			return arr, nil
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseDictionary() (PdfObject, error) {
	p.pos += 2 // '<<'
	dict := NewDictionary()
	for {
		p.SkipWhitespace()
		if p.atEOF() {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrUnexpectedEOF)
		}
		if p.peek() == '>' {
			if p.pos+1 < len(p.data) && p.data[p.pos+1] == '>' {
				p.pos += 2
				return dict, nil
			}
			return nil, fmt.Errorf("%w: lone '>' in dictionary", ErrInvalidObject)
		}
		if p.peek() != '/' {
			return nil, fmt.Errorf("%w: dictionary key must be a name at offset %d", ErrInvalidObject, p.pos)
		}
		keyObj, err := p.parseName()
		if err != nil {
			return nil, err
		}
		val, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		dict.Set(string(keyObj.(NameObject)), val)
	}
}

func (p *Parser) parseNumberOrReference() (PdfObject, error) {
	start := p.pos
	tok := p.readNumberToken()
	if tok == "" {
		return nil, fmt.Errorf("%w: empty number at offset %d", ErrInvalidObject, start)
	}

	if !bytes.ContainsRune([]byte(tok), '.') {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err == nil {
			// "N G R" lookahead.
			if n >= 0 {
				save := p.pos
				if ref, ok := p.tryReferenceTail(int(n)); ok {
					return ref, nil
				}
				p.pos = save
			}
			return IntegerObject(n), nil
		}
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad number %q at offset %d", ErrInvalidObject, tok, start)
	}
	return RealObject(f), nil
}

func (p *Parser) readNumberToken() string {
	start := p.pos
	if !p.atEOF() && (p.peek() == '+' || p.peek() == '-') {
		p.pos++
	}
	for !p.atEOF() {
		c := p.data[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	return string(p.data[start:p.pos])
}

// tryReferenceTail attempts to consume " G R" after an integer.
func (p *Parser) tryReferenceTail(objNum int) (Reference, bool) {
	p.SkipWhitespace()
	genStart := p.pos
	for !p.atEOF() && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == genStart {
		return Reference{}, false
	}
	gen, err := strconv.Atoi(string(p.data[genStart:p.pos]))
	if err != nil {
		return Reference{}, false
	}
	p.SkipWhitespace()
	if p.atEOF() || p.data[p.pos] != 'R' {
		return Reference{}, false
	}
	// R must stand alone, not prefix another token.
	if p.pos+1 < len(p.data) && IsRegular(p.data[p.pos+1]) {
		return Reference{}, false
	}
	p.pos++
	return Reference{ObjectNumber: objNum, GenerationNumber: gen}, true
}

// ParseIndirectObject parses "N G obj ... endobj" at the current position,
// including stream payloads.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.SkipWhitespace()
	numTok := p.readToken()
	objNum, err := strconv.Atoi(numTok)
	if err != nil {
		return nil, fmt.Errorf("%w: bad object number %q", ErrInvalidObject, numTok)
	}
	p.SkipWhitespace()
	genTok := p.readToken()
	genNum, err := strconv.Atoi(genTok)
	if err != nil {
		return nil, fmt.Errorf("%w: bad generation number %q", ErrInvalidObject, genTok)
	}
	if err := p.expectKeyword("obj"); err != nil {
		return nil, err
	}

	inner, err := p.ParseObject()
	if err != nil {
		return nil, err
	}

	p.SkipWhitespace()
	if p.hasKeywordAt("stream") {
		dict, ok := inner.(*DictionaryObject)
		if !ok {
			return nil, fmt.Errorf("%w: stream keyword after non-dictionary", ErrInvalidStream)
		}
		stream, err := p.parseStreamPayload(dict)
		if err != nil {
			return nil, err
		}
		inner = stream
		p.SkipWhitespace()
	}

	if p.hasKeywordAt("endobj") {
		p.pos += len("endobj")
	}
	return NewIndirectObject(objNum, genNum, inner), nil
}

func (p *Parser) hasKeywordAt(kw string) bool {
	if p.pos+len(kw) > len(p.data) {
		return false
	}
	if string(p.data[p.pos:p.pos+len(kw)]) != kw {
		return false
	}
	end := p.pos + len(kw)
	return end >= len(p.data) || !IsRegular(p.data[end])
}

func (p *Parser) parseStreamPayload(dict *DictionaryObject) (*StreamObject, error) {
	p.pos += len("stream")
	// The keyword is followed by CRLF or LF, never a bare CR.
	if !p.atEOF() && p.data[p.pos] == '\r' {
		p.pos++
	}
	if !p.atEOF() && p.data[p.pos] == '\n' {
		p.pos++
	}
	dataStart := p.pos

	length := int64(-1)
	switch v := dict.Get("Length").(type) {
	case IntegerObject:
		length = int64(v)
	case Reference:
		if p.ResolveLength != nil {
			if n, ok := p.ResolveLength(v); ok {
				length = n
			}
		}
	}

	if length >= 0 && dataStart+int(length) <= len(p.data) {
		end := dataStart + int(length)
		probe := p.clone(end)
		probe.SkipWhitespace()
		if probe.hasKeywordAt("endstream") {
			p.pos = probe.pos + len("endstream")
			return &StreamObject{Dictionary: dict, Data: p.data[dataStart:end]}, nil
		}
	}

	// Length missing or wrong: locate endstream by scanning.
	idx := bytes.Index(p.data[dataStart:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: endstream not found", ErrInvalidStream)
	}
	end := dataStart + idx
	// Trim the EOL separating data from the keyword.
	if end > dataStart && p.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && p.data[end-1] == '\r' {
		end--
	}
	p.pos = dataStart + idx + len("endstream")
	return &StreamObject{Dictionary: dict, Data: p.data[dataStart:end]}, nil
}

func (p *Parser) clone(pos int) *Parser {
	c := &Parser{data: p.data, ResolveLength: p.ResolveLength}
	c.Seek(pos)
	return c
}
