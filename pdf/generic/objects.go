// Package generic provides the PDF object model: the primitive object
// kinds defined by ISO 32000 and their serialization.
package generic

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PdfObject is implemented by every PDF object kind. The set of
// implementations is closed: Null, Boolean, Integer, Real, Name, String,
// Array, Dictionary, Stream, plus Reference and IndirectObject.
type PdfObject interface {
	// Write serializes the object in PDF syntax.
	Write(w io.Writer) error
	// Clone returns a deep copy sharing no mutable state with the original.
	Clone() PdfObject
}

// Reference is an indirect reference ("N G R"). References are the only
// handles handed out across component boundaries; they are never
// dereferenced outside the object store.
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

// NewReference creates a reference to object objNum with generation genNum.
func NewReference(objNum, genNum int) Reference {
	return Reference{ObjectNumber: objNum, GenerationNumber: genNum}
}

func (r Reference) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.ObjectNumber, r.GenerationNumber)
	return err
}

func (r Reference) Clone() PdfObject { return r }

func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// IndirectObject pairs an object with its number and generation, as written
// in the file body ("N G obj ... endobj").
type IndirectObject struct {
	ObjectNumber     int
	GenerationNumber int
	Object           PdfObject
}

// NewIndirectObject wraps obj as object number objNum, generation genNum.
func NewIndirectObject(objNum, genNum int, obj PdfObject) *IndirectObject {
	return &IndirectObject{ObjectNumber: objNum, GenerationNumber: genNum, Object: obj}
}

func (i *IndirectObject) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", i.ObjectNumber, i.GenerationNumber); err != nil {
		return err
	}
	if i.Object != nil {
		if err := i.Object.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

func (i *IndirectObject) Clone() PdfObject {
	var inner PdfObject
	if i.Object != nil {
		inner = i.Object.Clone()
	}
	return &IndirectObject{
		ObjectNumber:     i.ObjectNumber,
		GenerationNumber: i.GenerationNumber,
		Object:           inner,
	}
}

// Reference returns a Reference addressing this object.
func (i *IndirectObject) Reference() Reference {
	return Reference{ObjectNumber: i.ObjectNumber, GenerationNumber: i.GenerationNumber}
}

// NullObject is the PDF null value.
type NullObject struct{}

func (NullObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

func (NullObject) Clone() PdfObject { return NullObject{} }

// BooleanObject is a PDF boolean.
type BooleanObject bool

func (b BooleanObject) Write(w io.Writer) error {
	if b {
		_, err := io.WriteString(w, "true")
		return err
	}
	_, err := io.WriteString(w, "false")
	return err
}

func (b BooleanObject) Clone() PdfObject { return b }

// IntegerObject is a PDF integer.
type IntegerObject int64

func (i IntegerObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

func (i IntegerObject) Clone() PdfObject { return i }

// RealObject is a PDF real number.
type RealObject float64

func (r RealObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatFloat(float64(r), 'f', -1, 64))
	return err
}

func (r RealObject) Clone() PdfObject { return r }

// NumericValue extracts a float64 from an Integer or Real object.
func NumericValue(obj PdfObject) (float64, bool) {
	switch v := obj.(type) {
	case IntegerObject:
		return float64(v), true
	case RealObject:
		return float64(v), true
	}
	return 0, false
}

// NameObject is a PDF name ("/Type"). The value excludes the leading slash.
type NameObject string

func (n NameObject) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		// The number sign escapes delimiters, whitespace and itself, and
		// any byte outside the printable ASCII range.
		if c < '!' || c > '~' || c == '#' || IsDelimiter(c) {
			fmt.Fprintf(&buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (n NameObject) Clone() PdfObject { return n }

func (n NameObject) String() string { return string(n) }

// StringObject is a PDF string. Hex strings render as <...>, literal
// strings as (...) with escapes.
type StringObject struct {
	Value []byte
	IsHex bool
}

// NewLiteralString creates a literal string object.
func NewLiteralString(s string) *StringObject {
	return &StringObject{Value: []byte(s)}
}

// NewHexString creates a hex string object.
func NewHexString(data []byte) *StringObject {
	return &StringObject{Value: data, IsHex: true}
}

// NewTextString creates a text string, using UTF-16BE with a byte order
// mark when s contains characters outside Latin-1.
func NewTextString(s string) *StringObject {
	wide := false
	for _, r := range s {
		if r > 0xFF {
			wide = true
			break
		}
	}
	if !wide {
		b := make([]byte, 0, len(s))
		for _, r := range s {
			b = append(b, byte(r))
		}
		return &StringObject{Value: b}
	}
	var buf bytes.Buffer
	buf.Write([]byte{0xFE, 0xFF})
	for _, r := range s {
		if r > 0xFFFF {
			r = 0xFFFD
		}
		buf.WriteByte(byte(r >> 8))
		buf.WriteByte(byte(r))
	}
	return &StringObject{Value: buf.Bytes()}
}

func (s *StringObject) Write(w io.Writer) error {
	if s.IsHex {
		_, err := fmt.Fprintf(w, "<%s>", strings.ToUpper(hex.EncodeToString(s.Value)))
		return err
	}
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, b := range s.Value {
		switch b {
		case '\\':
			buf.WriteString(`\\`)
		case '(':
			buf.WriteString(`\(`)
		case ')':
			buf.WriteString(`\)`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if b < 0x20 || b > 0x7E {
				fmt.Fprintf(&buf, `\%03o`, b)
			} else {
				buf.WriteByte(b)
			}
		}
	}
	buf.WriteByte(')')
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *StringObject) Clone() PdfObject {
	val := make([]byte, len(s.Value))
	copy(val, s.Value)
	return &StringObject{Value: val, IsHex: s.IsHex}
}

// Text decodes the string value: UTF-16BE when the BOM is present,
// otherwise the raw bytes as Latin-1.
func (s *StringObject) Text() string {
	v := s.Value
	if len(v) >= 2 && v[0] == 0xFE && v[1] == 0xFF {
		var sb strings.Builder
		for i := 2; i+1 < len(v); i += 2 {
			sb.WriteRune(rune(v[i])<<8 | rune(v[i+1]))
		}
		return sb.String()
	}
	var sb strings.Builder
	for _, b := range v {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// IsWhitespace reports whether c is PDF whitespace.
func IsWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

// IsDelimiter reports whether c is a PDF delimiter character.
func IsDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// IsRegular reports whether c can appear inside a name or keyword token.
func IsRegular(c byte) bool {
	return !IsWhitespace(c) && !IsDelimiter(c)
}
