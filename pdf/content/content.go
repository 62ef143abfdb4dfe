// Package content builds and tokenizes PDF content streams: the operator
// sequences that draw a page.
package content

import (
	"bytes"
	"math"

	"github.com/pdforge/pdforge/pdf/generic"
)

// Operator is a content stream operator name.
type Operator string

// The operators used by this module, named per ISO 32000 table 51.
const (
	// Graphics state
	OpSaveState    Operator = "q"
	OpRestoreState Operator = "Q"
	OpSetCTM       Operator = "cm"
	OpSetLineWidth Operator = "w"
	OpSetLineCap   Operator = "J"
	OpSetLineJoin  Operator = "j"
	OpSetDash      Operator = "d"
	OpSetGState    Operator = "gs"

	// Path construction
	OpMoveTo    Operator = "m"
	OpLineTo    Operator = "l"
	OpCurveTo   Operator = "c"
	OpClosePath Operator = "h"
	OpRectangle Operator = "re"

	// Path painting
	OpStroke        Operator = "S"
	OpFill          Operator = "f"
	OpFillAndStroke Operator = "B"
	OpEndPath       Operator = "n"

	// Clipping
	OpClip Operator = "W"

	// Text objects and state
	OpBeginText     Operator = "BT"
	OpEndText       Operator = "ET"
	OpSetFont       Operator = "Tf"
	OpSetLeading    Operator = "TL"
	OpTextMove      Operator = "Td"
	OpSetTextMatrix Operator = "Tm"
	OpTextNextLine  Operator = "T*"
	OpShowText      Operator = "Tj"

	// Color
	OpSetStrokeGray Operator = "G"
	OpSetFillGray   Operator = "g"
	OpSetStrokeRGB  Operator = "RG"
	OpSetFillRGB    Operator = "rg"

	// XObjects
	OpPaintXObject Operator = "Do"
)

// Operation is one operator with its operands.
type Operation struct {
	Operator Operator
	Operands []generic.PdfObject
}

// ContentStream is an ordered operator sequence.
type ContentStream struct {
	Operations []Operation
}

// NewContentStream creates an empty content stream.
func NewContentStream() *ContentStream {
	return &ContentStream{}
}

// Add appends an operation.
func (cs *ContentStream) Add(op Operator, operands ...generic.PdfObject) {
	cs.Operations = append(cs.Operations, Operation{Operator: op, Operands: operands})
}

// Render serializes the stream, one operation per line.
func (cs *ContentStream) Render() []byte {
	var buf bytes.Buffer
	for _, op := range cs.Operations {
		for i, operand := range op.Operands {
			if i > 0 {
				buf.WriteByte(' ')
			}
			operand.Write(&buf)
		}
		if len(op.Operands) > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(string(op.Operator))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Balanced reports whether every restore (Q) has a matching earlier save
// (q) and the stream ends at depth zero.
func (cs *ContentStream) Balanced() bool {
	depth := 0
	for _, op := range cs.Operations {
		switch op.Operator {
		case OpSaveState:
			depth++
		case OpRestoreState:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// kappa approximates a quarter circle with one cubic Bézier segment.
const kappa = 0.5522847498307936

func number(v float64) generic.PdfObject { return generic.RealObject(v) }

// Builder assembles a content stream through chained drawing calls.
type Builder struct {
	stream *ContentStream
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{stream: NewContentStream()}
}

// Stream returns the accumulated content stream.
func (b *Builder) Stream() *ContentStream { return b.stream }

// Render serializes the accumulated operations.
func (b *Builder) Render() []byte { return b.stream.Render() }

// SaveState pushes the graphics state.
func (b *Builder) SaveState() *Builder {
	b.stream.Add(OpSaveState)
	return b
}

// RestoreState pops the graphics state.
func (b *Builder) RestoreState() *Builder {
	b.stream.Add(OpRestoreState)
	return b
}

// Transform concatenates a transformation matrix.
func (b *Builder) Transform(a, c, d, e, f, g float64) *Builder {
	b.stream.Add(OpSetCTM, number(a), number(c), number(d), number(e), number(f), number(g))
	return b
}

// Translate moves the origin by (tx, ty).
func (b *Builder) Translate(tx, ty float64) *Builder {
	return b.Transform(1, 0, 0, 1, tx, ty)
}

// Scale scales the coordinate system.
func (b *Builder) Scale(sx, sy float64) *Builder {
	return b.Transform(sx, 0, 0, sy, 0, 0)
}

// Rotate rotates the coordinate system by the angle in radians.
func (b *Builder) Rotate(radians float64) *Builder {
	sin, cos := math.Sincos(radians)
	return b.Transform(cos, sin, -sin, cos, 0, 0)
}

// SetGState selects a named graphics state from the page resources.
func (b *Builder) SetGState(name string) *Builder {
	b.stream.Add(OpSetGState, generic.NameObject(name))
	return b
}

// SetLineWidth sets the stroke width.
func (b *Builder) SetLineWidth(width float64) *Builder {
	b.stream.Add(OpSetLineWidth, number(width))
	return b
}

// SetStrokeRGB sets the stroking color.
func (b *Builder) SetStrokeRGB(r, g, bl float64) *Builder {
	b.stream.Add(OpSetStrokeRGB, number(r), number(g), number(bl))
	return b
}

// SetFillRGB sets the non-stroking color.
func (b *Builder) SetFillRGB(r, g, bl float64) *Builder {
	b.stream.Add(OpSetFillRGB, number(r), number(g), number(bl))
	return b
}

// SetStrokeGray sets the stroking gray level.
func (b *Builder) SetStrokeGray(gray float64) *Builder {
	b.stream.Add(OpSetStrokeGray, number(gray))
	return b
}

// SetFillGray sets the non-stroking gray level.
func (b *Builder) SetFillGray(gray float64) *Builder {
	b.stream.Add(OpSetFillGray, number(gray))
	return b
}

// MoveTo begins a new subpath at (x, y).
func (b *Builder) MoveTo(x, y float64) *Builder {
	b.stream.Add(OpMoveTo, number(x), number(y))
	return b
}

// LineTo appends a straight segment to (x, y).
func (b *Builder) LineTo(x, y float64) *Builder {
	b.stream.Add(OpLineTo, number(x), number(y))
	return b
}

// CurveTo appends a cubic Bézier segment with control points (x1, y1) and
// (x2, y2) ending at (x3, y3).
func (b *Builder) CurveTo(x1, y1, x2, y2, x3, y3 float64) *Builder {
	b.stream.Add(OpCurveTo, number(x1), number(y1), number(x2), number(y2), number(x3), number(y3))
	return b
}

// Rectangle appends a rectangle subpath.
func (b *Builder) Rectangle(x, y, width, height float64) *Builder {
	b.stream.Add(OpRectangle, number(x), number(y), number(width), number(height))
	return b
}

// Ellipse appends an ellipse centered on (cx, cy) built from four Bézier
// arcs, one per quadrant.
func (b *Builder) Ellipse(cx, cy, rx, ry float64) *Builder {
	kx, ky := rx*kappa, ry*kappa
	b.MoveTo(cx+rx, cy)
	b.CurveTo(cx+rx, cy+ky, cx+kx, cy+ry, cx, cy+ry)
	b.CurveTo(cx-kx, cy+ry, cx-rx, cy+ky, cx-rx, cy)
	b.CurveTo(cx-rx, cy-ky, cx-kx, cy-ry, cx, cy-ry)
	b.CurveTo(cx+kx, cy-ry, cx+rx, cy-ky, cx+rx, cy)
	return b.ClosePath()
}

// Circle appends a circle of radius r centered on (cx, cy).
func (b *Builder) Circle(cx, cy, r float64) *Builder {
	return b.Ellipse(cx, cy, r, r)
}

// ClosePath closes the current subpath.
func (b *Builder) ClosePath() *Builder {
	b.stream.Add(OpClosePath)
	return b
}

// Stroke strokes the current path.
func (b *Builder) Stroke() *Builder {
	b.stream.Add(OpStroke)
	return b
}

// Fill fills the current path.
func (b *Builder) Fill() *Builder {
	b.stream.Add(OpFill)
	return b
}

// FillAndStroke fills, then strokes, the current path.
func (b *Builder) FillAndStroke() *Builder {
	b.stream.Add(OpFillAndStroke)
	return b
}

// Clip intersects the clipping path with the current path.
func (b *Builder) Clip() *Builder {
	b.stream.Add(OpClip)
	return b
}

// EndPath drops the current path without painting, typically after Clip.
func (b *Builder) EndPath() *Builder {
	b.stream.Add(OpEndPath)
	return b
}

// BeginText opens a text object.
func (b *Builder) BeginText() *Builder {
	b.stream.Add(OpBeginText)
	return b
}

// EndText closes the text object.
func (b *Builder) EndText() *Builder {
	b.stream.Add(OpEndText)
	return b
}

// SetFont selects a font from the page resources at the given size.
func (b *Builder) SetFont(name string, size float64) *Builder {
	b.stream.Add(OpSetFont, generic.NameObject(name), number(size))
	return b
}

// SetLeading sets the distance between text lines for TextNextLine.
func (b *Builder) SetLeading(leading float64) *Builder {
	b.stream.Add(OpSetLeading, number(leading))
	return b
}

// TextPosition moves the text cursor relative to the current line start.
func (b *Builder) TextPosition(x, y float64) *Builder {
	b.stream.Add(OpTextMove, number(x), number(y))
	return b
}

// SetTextMatrix sets the text matrix directly.
func (b *Builder) SetTextMatrix(a, c, d, e, f, g float64) *Builder {
	b.stream.Add(OpSetTextMatrix, number(a), number(c), number(d), number(e), number(f), number(g))
	return b
}

// TextNextLine moves to the start of the next line.
func (b *Builder) TextNextLine() *Builder {
	b.stream.Add(OpTextNextLine)
	return b
}

// ShowText paints encoded text bytes at the current position. Encoding to
// the font's byte mapping is the caller's responsibility.
func (b *Builder) ShowText(encoded []byte) *Builder {
	b.stream.Add(OpShowText, &generic.StringObject{Value: encoded})
	return b
}

// PaintXObject paints a named XObject from the page resources.
func (b *Builder) PaintXObject(name string) *Builder {
	b.stream.Add(OpPaintXObject, generic.NameObject(name))
	return b
}
