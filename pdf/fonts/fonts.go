// Package fonts provides the standard 14 Type 1 fonts: name lookup,
// WinAnsi text encoding, and the width metrics text overlays need for
// layout.
package fonts

import (
	"errors"
	"fmt"

	"github.com/pdforge/pdforge/pdf/generic"
)

// Font errors.
var (
	ErrUnknownFont = errors.New("unknown standard font")
	ErrUnencodable = errors.New("text not encodable in WinAnsi")
)

// StandardFont names the base fonts every conforming reader provides.
type StandardFont string

const (
	Helvetica            StandardFont = "Helvetica"
	HelveticaBold        StandardFont = "Helvetica-Bold"
	HelveticaOblique     StandardFont = "Helvetica-Oblique"
	HelveticaBoldOblique StandardFont = "Helvetica-BoldOblique"
	TimesRoman           StandardFont = "Times-Roman"
	TimesBold            StandardFont = "Times-Bold"
	TimesItalic          StandardFont = "Times-Italic"
	TimesBoldItalic      StandardFont = "Times-BoldItalic"
	Courier              StandardFont = "Courier"
	CourierBold          StandardFont = "Courier-Bold"
	CourierOblique       StandardFont = "Courier-Oblique"
	CourierBoldOblique   StandardFont = "Courier-BoldOblique"
	Symbol               StandardFont = "Symbol"
	ZapfDingbats         StandardFont = "ZapfDingbats"
)

// defaultWidth is used for codes without an entry in the width tables.
const defaultWidth = 600

// Font is one of the standard 14 fonts.
type Font struct {
	name      StandardFont
	widths    map[byte]int
	ascender  float64
	descender float64
	symbolic  bool
}

// Standard looks a font up by its base name.
func Standard(name string) (*Font, error) {
	f, ok := standardFonts[StandardFont(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFont, name)
	}
	return f, nil
}

// IsStandard reports whether name is one of the standard 14 fonts.
func IsStandard(name string) bool {
	_, ok := standardFonts[StandardFont(name)]
	return ok
}

// Name returns the base font name.
func (f *Font) Name() string { return string(f.name) }

// Encode converts s to WinAnsi bytes. Characters outside the encoding are
// rejected, never silently replaced.
func (f *Font) Encode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r < 0x80:
			out = append(out, byte(r))
		case r >= 0xA0 && r <= 0xFF:
			out = append(out, byte(r))
		default:
			if b, ok := winAnsi[r]; ok {
				out = append(out, b)
				break
			}
			return nil, fmt.Errorf("%w: %q", ErrUnencodable, r)
		}
	}
	return out, nil
}

// Width returns the glyph width for an encoded byte, in 1/1000 em.
func (f *Font) Width(code byte) int {
	if w, ok := f.widths[code]; ok {
		return w
	}
	return defaultWidth
}

// StringWidth measures s at the given size, encoding it first.
func (f *Font) StringWidth(s string, size float64) (float64, error) {
	encoded, err := f.Encode(s)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, code := range encoded {
		total += f.Width(code)
	}
	return float64(total) * size / 1000, nil
}

// LineHeight returns the ascender-to-descender extent at the given size.
func (f *Font) LineHeight(size float64) float64 {
	return (f.ascender - f.descender) * size / 1000
}

// Ascender returns the ascender height at the given size.
func (f *Font) Ascender(size float64) float64 {
	return f.ascender * size / 1000
}

// ResourceDict builds the font dictionary for the page resources. The
// symbolic fonts use their built-in encoding; the text fonts declare
// WinAnsi.
func (f *Font) ResourceDict() *generic.DictionaryObject {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("Font"))
	dict.Set("Subtype", generic.NameObject("Type1"))
	dict.Set("BaseFont", generic.NameObject(f.name))
	if !f.symbolic {
		dict.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	}
	return dict
}

// newFont fills in the per-digit width, shared within each family.
func newFont(name StandardFont, widths map[byte]int, digitWidth int, ascender, descender float64) *Font {
	merged := make(map[byte]int, len(widths)+10)
	for k, v := range widths {
		merged[k] = v
	}
	for c := byte('0'); c <= '9'; c++ {
		merged[c] = digitWidth
	}
	return &Font{name: name, widths: merged, ascender: ascender, descender: descender}
}

func newSymbolicFont(name StandardFont, ascender, descender float64) *Font {
	return &Font{name: name, widths: map[byte]int{}, ascender: ascender, descender: descender, symbolic: true}
}

var standardFonts = map[StandardFont]*Font{
	Helvetica:            newFont(Helvetica, helveticaWidths, 556, 718, -207),
	HelveticaOblique:     newFont(HelveticaOblique, helveticaWidths, 556, 718, -207),
	HelveticaBold:        newFont(HelveticaBold, helveticaBoldWidths, 556, 718, -207),
	HelveticaBoldOblique: newFont(HelveticaBoldOblique, helveticaBoldWidths, 556, 718, -207),
	TimesRoman:           newFont(TimesRoman, timesWidths, 500, 683, -217),
	TimesItalic:          newFont(TimesItalic, timesWidths, 500, 683, -217),
	TimesBold:            newFont(TimesBold, timesBoldWidths, 500, 683, -217),
	TimesBoldItalic:      newFont(TimesBoldItalic, timesBoldWidths, 500, 683, -217),
	Courier:              newFont(Courier, courierWidths, 600, 629, -157),
	CourierBold:          newFont(CourierBold, courierWidths, 600, 629, -157),
	CourierOblique:       newFont(CourierOblique, courierWidths, 600, 629, -157),
	CourierBoldOblique:   newFont(CourierBoldOblique, courierWidths, 600, 629, -157),
	Symbol:               newSymbolicFont(Symbol, 800, -200),
	ZapfDingbats:         newSymbolicFont(ZapfDingbats, 800, -200),
}

// winAnsi maps the code points WinAnsi places in 0x80-0x9F.
var winAnsi = map[rune]byte{
	0x20AC: 0x80, // €
	0x201A: 0x82, // ‚
	0x0192: 0x83, // ƒ
	0x201E: 0x84, // „
	0x2026: 0x85, // …
	0x2020: 0x86, // †
	0x2021: 0x87, // ‡
	0x02C6: 0x88, // ˆ
	0x2030: 0x89, // ‰
	0x0160: 0x8A, // Š
	0x2039: 0x8B, // ‹
	0x0152: 0x8C, // Œ
	0x017D: 0x8E, // Ž
	0x2018: 0x91, // ‘
	0x2019: 0x92, // ’
	0x201C: 0x93, // “
	0x201D: 0x94, // ”
	0x2022: 0x95, // •
	0x2013: 0x96, // –
	0x2014: 0x97, // —
	0x02DC: 0x98, // ˜
	0x2122: 0x99, // ™
	0x0161: 0x9A, // š
	0x203A: 0x9B, // ›
	0x0153: 0x9C, // œ
	0x017E: 0x9E, // ž
	0x0178: 0x9F, // Ÿ
}
