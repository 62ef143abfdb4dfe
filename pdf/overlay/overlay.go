// Package overlay stamps generated content onto existing pages: text runs,
// shapes, highlight marks, raster images and tiled watermarks. The overlay
// operators are appended as their own content stream wrapped in q/Q, the
// pre-existing content is optionally bracketed the same way, and the page's
// resource dictionary is extended without disturbing existing bindings.
package overlay

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/pdforge/pdforge/pdf/content"
	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/fonts"
	"github.com/pdforge/pdforge/pdf/generic"
)

// ErrUnsupportedResource is returned when a referenced font or image cannot
// be embedded.
var ErrUnsupportedResource = errors.New("unsupported overlay resource")

// RGB is a color with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// Options configures how an overlay is applied to a page.
type Options struct {
	// WrapExistingContent brackets the pre-existing page content in q/Q so
	// an unbalanced original cannot bleed graphics state into the overlay.
	// Default is true.
	WrapExistingContent bool
}

// DefaultOptions returns the default apply options.
func DefaultOptions() *Options {
	return &Options{WrapExistingContent: true}
}

// Item is one drawable overlay. The concrete kinds are Text, Rectangle,
// Ellipse, Line, Highlight, Image and Watermark.
type Item interface {
	draw(ctx *drawContext) error
}

// Text is a single positioned text run.
type Text struct {
	Value string
	Font  string  // standard-14 base font name
	Size  float64 // defaults to 12
	X, Y  float64
	Color RGB
}

// Rectangle strokes and/or fills an axis-aligned rectangle. With neither
// color set it is stroked black.
type Rectangle struct {
	Box         generic.Rectangle
	LineWidth   float64
	StrokeColor *RGB
	FillColor   *RGB
}

// Ellipse strokes and/or fills an ellipse built from four Bézier arcs.
type Ellipse struct {
	CX, CY      float64
	RX, RY      float64
	LineWidth   float64
	StrokeColor *RGB
	FillColor   *RGB
}

// Line strokes a straight segment.
type Line struct {
	X1, Y1 float64
	X2, Y2 float64
	Width  float64 // defaults to 1
	Color  RGB
}

// Highlight fills a rectangle through a multiply blend with partial alpha,
// so text underneath stays readable.
type Highlight struct {
	Box     generic.Rectangle
	Color   RGB
	Opacity float64 // defaults to 0.35
}

// Image paints an image XObject, scaled to Width x Height user-space units
// at (X, Y). Zero dimensions default to the pixel size.
type Image struct {
	XObject *generic.StreamObject
	X, Y    float64
	Width   float64
	Height  float64
}

// Watermark tiles a text run across the whole page at reduced alpha.
type Watermark struct {
	Value   string
	Font    string  // standard-14 base font name
	Size    float64 // defaults to 36
	Color   RGB
	Opacity float64 // defaults to 0.15
	Angle   float64 // degrees counter-clockwise
	StepX   float64 // tile advance; defaults derived from the text width
	StepY   float64
}

// Apply stamps items onto the page at pageIndex with default options.
func Apply(doc *document.Document, pageIndex int, items ...Item) error {
	return ApplyWithOptions(doc, pageIndex, nil, items...)
}

// ApplyWithOptions stamps items onto the page at pageIndex. All items are
// rendered and their resources resolved before the document is touched, so
// a failed apply leaves the document unchanged.
func ApplyWithOptions(doc *document.Document, pageIndex int, opts *Options, items ...Item) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if len(items) == 0 {
		return nil
	}
	page, err := doc.Page(pageIndex)
	if err != nil {
		return err
	}
	res, err := newResourceTable(doc, page.Dict)
	if err != nil {
		return err
	}
	ctx := &drawContext{
		b:   content.NewBuilder(),
		res: res,
		box: effectiveBox(doc, page.Dict),
	}

	ctx.b.SaveState()
	for _, item := range items {
		ctx.b.SaveState()
		if err := item.draw(ctx); err != nil {
			return err
		}
		ctx.b.RestoreState()
	}
	ctx.b.RestoreState()

	// Nothing can fail past this point.
	overlayRef := doc.Add(generic.NewStream(nil, ctx.b.Render()))

	streams := contentList(doc, page.Dict)
	if opts.WrapExistingContent && len(streams) > 0 {
		push := doc.Add(generic.NewStream(nil, []byte("q\n")))
		pop := doc.Add(generic.NewStream(nil, []byte("\nQ")))
		streams = append([]generic.PdfObject{push}, append(streams, pop)...)
	}
	streams = append(streams, overlayRef)

	dict := page.Dict.Clone().(*generic.DictionaryObject)
	dict.Set("Contents", generic.ArrayObject(streams))
	dict.Set("Resources", res.materialize(doc))
	doc.Update(page.Ref.ObjectNumber, dict)
	return nil
}

type drawContext struct {
	b   *content.Builder
	res *resourceTable
	box generic.Rectangle
}

func (t Text) draw(ctx *drawContext) error {
	name, font, err := ctx.res.font(t.Font)
	if err != nil {
		return err
	}
	encoded, err := font.Encode(norm.NFC.String(t.Value))
	if err != nil {
		return fmt.Errorf("text overlay: %w", err)
	}
	size := t.Size
	if size <= 0 {
		size = 12
	}
	ctx.b.SetFillRGB(t.Color.R, t.Color.G, t.Color.B).
		BeginText().
		SetFont(name, size).
		TextPosition(t.X, t.Y).
		ShowText(encoded).
		EndText()
	return nil
}

func (r Rectangle) draw(ctx *drawContext) error {
	if r.Box.Width() <= 0 || r.Box.Height() <= 0 {
		return fmt.Errorf("rectangle overlay must have positive extent, got %g x %g",
			r.Box.Width(), r.Box.Height())
	}
	strokeShape(ctx.b, r.LineWidth, r.StrokeColor, r.FillColor, func(b *content.Builder) {
		b.Rectangle(r.Box.LLX, r.Box.LLY, r.Box.Width(), r.Box.Height())
	})
	return nil
}

func (e Ellipse) draw(ctx *drawContext) error {
	if e.RX <= 0 || e.RY <= 0 {
		return fmt.Errorf("ellipse overlay must have positive radii, got %g x %g", e.RX, e.RY)
	}
	strokeShape(ctx.b, e.LineWidth, e.StrokeColor, e.FillColor, func(b *content.Builder) {
		b.Ellipse(e.CX, e.CY, e.RX, e.RY)
	})
	return nil
}

func (l Line) draw(ctx *drawContext) error {
	width := l.Width
	if width <= 0 {
		width = 1
	}
	ctx.b.SetLineWidth(width).
		SetStrokeRGB(l.Color.R, l.Color.G, l.Color.B).
		MoveTo(l.X1, l.Y1).
		LineTo(l.X2, l.Y2).
		Stroke()
	return nil
}

func (h Highlight) draw(ctx *drawContext) error {
	if h.Box.Width() <= 0 || h.Box.Height() <= 0 {
		return fmt.Errorf("highlight overlay must have positive extent, got %g x %g",
			h.Box.Width(), h.Box.Height())
	}
	opacity := h.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.35
	}
	ctx.b.SetGState(ctx.res.alphaState(opacity, true)).
		SetFillRGB(h.Color.R, h.Color.G, h.Color.B).
		Rectangle(h.Box.LLX, h.Box.LLY, h.Box.Width(), h.Box.Height()).
		Fill()
	return nil
}

func (im Image) draw(ctx *drawContext) error {
	if im.XObject == nil {
		return fmt.Errorf("%w: image overlay has no XObject", ErrUnsupportedResource)
	}
	if sub := im.XObject.Dictionary.GetName("Subtype"); sub != "Image" {
		return fmt.Errorf("%w: XObject subtype %q, want Image", ErrUnsupportedResource, sub)
	}
	width, height := im.Width, im.Height
	if width <= 0 || height <= 0 {
		px, okW := im.XObject.Dictionary.GetInt("Width")
		py, okH := im.XObject.Dictionary.GetInt("Height")
		if !okW || !okH {
			return fmt.Errorf("%w: image XObject has no pixel dimensions", ErrUnsupportedResource)
		}
		if width <= 0 {
			width = float64(px)
		}
		if height <= 0 {
			height = float64(py)
		}
	}
	// Image space is the unit square; cm scales it to the target box.
	ctx.b.Transform(width, 0, 0, height, im.X, im.Y).
		PaintXObject(ctx.res.xobject(im.XObject))
	return nil
}

func (w Watermark) draw(ctx *drawContext) error {
	name, font, err := ctx.res.font(w.Font)
	if err != nil {
		return err
	}
	text := norm.NFC.String(w.Value)
	encoded, err := font.Encode(text)
	if err != nil {
		return fmt.Errorf("watermark overlay: %w", err)
	}
	size := w.Size
	if size <= 0 {
		size = 36
	}
	opacity := w.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 0.15
	}
	textWidth, _ := font.StringWidth(text, size)
	stepX := w.StepX
	if stepX <= 0 {
		stepX = textWidth + size*2
	}
	stepY := w.StepY
	if stepY <= 0 {
		stepY = size * 4
	}
	// A floor keeps the tiling loop finite on degenerate inputs.
	stepX = math.Max(stepX, 1)
	stepY = math.Max(stepY, 1)
	radians := w.Angle * math.Pi / 180

	ctx.b.SetGState(ctx.res.alphaState(opacity, false)).
		SetFillRGB(w.Color.R, w.Color.G, w.Color.B)
	for y := ctx.box.LLY; y < ctx.box.URY; y += stepY {
		for x := ctx.box.LLX; x < ctx.box.URX; x += stepX {
			ctx.b.SaveState().
				Translate(x, y).
				Rotate(radians).
				BeginText().
				SetFont(name, size).
				TextPosition(0, 0).
				ShowText(encoded).
				EndText().
				RestoreState()
		}
	}
	return nil
}

// strokeShape emits a path through emit and paints it according to the
// stroke/fill colors. With neither color it strokes black.
func strokeShape(b *content.Builder, lineWidth float64, stroke, fill *RGB, emit func(*content.Builder)) {
	if lineWidth > 0 {
		b.SetLineWidth(lineWidth)
	}
	if stroke != nil {
		b.SetStrokeRGB(stroke.R, stroke.G, stroke.B)
	}
	if fill != nil {
		b.SetFillRGB(fill.R, fill.G, fill.B)
	}
	emit(b)
	switch {
	case stroke != nil && fill != nil:
		b.FillAndStroke()
	case fill != nil:
		b.Fill()
	default:
		b.Stroke()
	}
}

// resourceTable allocates final resource names for the overlay, renaming
// around names the page already binds. Fonts and graphics states are added
// as direct dictionaries; XObject streams are held back and added to the
// document only once the whole overlay has rendered.
type resourceTable struct {
	base *generic.DictionaryObject
	used map[string]map[string]bool

	fonts    map[string]string
	states   map[string]string
	xobjs    map[*generic.StreamObject]string
	xobjAdds []xobjAdd
}

type xobjAdd struct {
	name   string
	stream *generic.StreamObject
}

// newResourceTable clones the page's effective resource dictionary and
// records which names each touched category already uses. Subdictionaries
// reached through references are resolved and cloned, so shared resource
// objects are never mutated.
func newResourceTable(doc *document.Document, pageDict *generic.DictionaryObject) (*resourceTable, error) {
	rt := &resourceTable{
		base:   generic.NewDictionary(),
		used:   make(map[string]map[string]bool),
		fonts:  make(map[string]string),
		states: make(map[string]string),
		xobjs:  make(map[*generic.StreamObject]string),
	}
	if v, ok := inheritedAttr(doc, pageDict, "Resources"); ok {
		resolved, err := doc.ResolveDict(v)
		if err != nil {
			return nil, fmt.Errorf("resolving page resources: %w", err)
		}
		rt.base = resolved.Clone().(*generic.DictionaryObject)
	}

	for _, category := range []string{"Font", "ExtGState", "XObject"} {
		entry := rt.base.Get(category)
		if entry == nil {
			continue
		}
		sub, err := doc.ResolveDict(entry)
		if err != nil {
			return nil, fmt.Errorf("resolving /%s resources: %w", category, err)
		}
		if _, isRef := entry.(generic.Reference); isRef {
			sub = sub.Clone().(*generic.DictionaryObject)
			rt.base.Set(category, sub)
		}
		names := make(map[string]bool, sub.Len())
		for _, name := range sub.Keys() {
			names[name] = true
		}
		rt.used[category] = names
	}
	return rt, nil
}

// claim returns the first free name with the given prefix in category.
func (rt *resourceTable) claim(category, prefix string) string {
	names := rt.used[category]
	if names == nil {
		names = make(map[string]bool)
		rt.used[category] = names
	}
	for i := 0; ; i++ {
		name := prefix + strconv.Itoa(i)
		if !names[name] {
			names[name] = true
			return name
		}
	}
}

func (rt *resourceTable) subdict(category string) *generic.DictionaryObject {
	if sub := rt.base.GetDict(category); sub != nil {
		return sub
	}
	sub := generic.NewDictionary()
	rt.base.Set(category, sub)
	return sub
}

// font binds a standard font and returns its final resource name.
func (rt *resourceTable) font(name string) (string, *fonts.Font, error) {
	f, err := fonts.Standard(name)
	if err != nil {
		return "", nil, fmt.Errorf("%w: unknown font %q", ErrUnsupportedResource, name)
	}
	if resName, ok := rt.fonts[name]; ok {
		return resName, f, nil
	}
	resName := rt.claim("Font", "F")
	rt.subdict("Font").Set(resName, f.ResourceDict())
	rt.fonts[name] = resName
	return resName, f, nil
}

// alphaState binds a graphics state with the given constant alpha,
// optionally blending multiply, and returns its resource name.
func (rt *resourceTable) alphaState(alpha float64, multiply bool) string {
	key := fmt.Sprintf("%g|%t", alpha, multiply)
	if name, ok := rt.states[key]; ok {
		return name
	}
	gs := generic.NewDictionary()
	gs.Set("Type", generic.NameObject("ExtGState"))
	gs.Set("ca", generic.RealObject(alpha))
	gs.Set("CA", generic.RealObject(alpha))
	if multiply {
		gs.Set("BM", generic.NameObject("Multiply"))
	}
	name := rt.claim("ExtGState", "GS")
	rt.subdict("ExtGState").Set(name, gs)
	rt.states[key] = name
	return name
}

// xobject reserves a resource name for stream; the stream itself joins the
// document during materialize.
func (rt *resourceTable) xobject(stream *generic.StreamObject) string {
	if name, ok := rt.xobjs[stream]; ok {
		return name
	}
	name := rt.claim("XObject", "Im")
	rt.xobjs[stream] = name
	rt.xobjAdds = append(rt.xobjAdds, xobjAdd{name: name, stream: stream})
	return name
}

// materialize adds the held-back XObject streams to doc and returns the
// merged resource dictionary.
func (rt *resourceTable) materialize(doc *document.Document) *generic.DictionaryObject {
	for _, add := range rt.xobjAdds {
		rt.subdict("XObject").Set(add.name, doc.Add(add.stream))
	}
	return rt.base
}

// contentList returns the page's content streams as a flat reference list.
// A direct stream (nonconforming but seen in the wild) is promoted to an
// indirect object.
func contentList(doc *document.Document, pageDict *generic.DictionaryObject) []generic.PdfObject {
	switch v := pageDict.Get("Contents").(type) {
	case generic.Reference:
		if resolved, err := doc.Resolve(v); err == nil {
			if arr, ok := resolved.(generic.ArrayObject); ok {
				return append([]generic.PdfObject(nil), arr...)
			}
		}
		return []generic.PdfObject{v}
	case generic.ArrayObject:
		return append([]generic.PdfObject(nil), v...)
	case *generic.StreamObject:
		return []generic.PdfObject{doc.Add(v)}
	}
	return nil
}

// effectiveBox returns the page's media box, walking inheritance, with the
// classic letter size as last resort.
func effectiveBox(doc *document.Document, pageDict *generic.DictionaryObject) generic.Rectangle {
	if v, ok := inheritedAttr(doc, pageDict, "MediaBox"); ok {
		if resolved, err := doc.Resolve(v); err == nil {
			if arr, ok := resolved.(generic.ArrayObject); ok {
				if box, err := generic.NewRectangle(arr); err == nil {
					return *box
				}
			}
		}
	}
	return generic.Rectangle{URX: 612, URY: 792}
}

// inheritedAttr reads a page attribute, walking /Parent links when the node
// itself has no entry.
func inheritedAttr(doc *document.Document, dict *generic.DictionaryObject, key string) (generic.PdfObject, bool) {
	visited := make(map[int]bool)
	for {
		if dict.Has(key) {
			return dict.Get(key), true
		}
		parentRef, ok := dict.GetReference("Parent")
		if !ok || visited[parentRef.ObjectNumber] {
			return nil, false
		}
		visited[parentRef.ObjectNumber] = true
		parent, err := doc.ResolveDict(parentRef)
		if err != nil {
			return nil, false
		}
		dict = parent
	}
}
