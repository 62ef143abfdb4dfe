package images

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/writer"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

// translucentFixture is a 2x2 NRGBA image whose bottom-right pixel is
// half transparent white, which premultiplies to 128 per channel.
func translucentFixture() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 128})
	return img
}

func buildDoc(t *testing.T) *document.Document {
	t.Helper()
	w := writer.NewPdfFileWriter("1.7")
	w.AddPage(generic.Rectangle{URX: 612, URY: 792}, []byte("BT ET"))
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	doc, err := document.Load(data)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return doc
}

func TestFromBytesPNG(t *testing.T) {
	img, err := FromBytes(encodePNG(t, translucentFixture()))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if img.Width != 2 || img.Height != 2 {
		t.Fatalf("dimensions = %dx%d, want 2x2", img.Width, img.Height)
	}
	if img.ColorSpace != ColorSpaceRGB || img.Components != 3 {
		t.Errorf("color space = %s/%d, want DeviceRGB/3", img.ColorSpace, img.Components)
	}
	if img.Filter != "FlateDecode" {
		t.Errorf("filter = %q, want FlateDecode", img.Filter)
	}
	if img.BitsPerComponent != 8 {
		t.Errorf("bits per component = %d, want 8", img.BitsPerComponent)
	}

	samples, err := img.RawSamples()
	if err != nil {
		t.Fatalf("RawSamples: %v", err)
	}
	want := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 128, 128, 128,
	}
	if !bytes.Equal(samples, want) {
		t.Errorf("samples = %v, want %v", samples, want)
	}

	if !img.HasAlpha() {
		t.Fatal("expected an alpha mask")
	}
	if mask := inflate(t, img.Alpha); !bytes.Equal(mask, []byte{255, 255, 255, 128}) {
		t.Errorf("alpha mask = %v", mask)
	}
}

func TestFromBytesPNGOpaque(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(40 * x), G: uint8(90 * y), B: 7, A: 255})
		}
	}
	decoded, err := FromBytes(encodePNG(t, img))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if decoded.HasAlpha() {
		t.Error("opaque image should not carry an alpha mask")
	}
	samples, err := decoded.RawSamples()
	if err != nil {
		t.Fatalf("RawSamples: %v", err)
	}
	if len(samples) != 3*2*3 {
		t.Errorf("sample count = %d, want 18", len(samples))
	}
}

func TestFromBytesGrayscalePNG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 10})
	img.SetGray(1, 0, color.Gray{Y: 200})

	decoded, err := FromBytes(encodePNG(t, img))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if decoded.ColorSpace != ColorSpaceGray || decoded.Components != 1 {
		t.Fatalf("color space = %s/%d, want DeviceGray/1", decoded.ColorSpace, decoded.Components)
	}
	if decoded.HasAlpha() {
		t.Error("grayscale image should not carry an alpha mask")
	}
	samples, err := decoded.RawSamples()
	if err != nil {
		t.Fatalf("RawSamples: %v", err)
	}
	if !bytes.Equal(samples, []byte{10, 200}) {
		t.Errorf("samples = %v, want [10 200]", samples)
	}
}

func TestFromBytesJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	data := encodeJPEG(t, src)

	img, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if img.Filter != "DCTDecode" {
		t.Fatalf("filter = %q, want DCTDecode", img.Filter)
	}
	if !bytes.Equal(img.Data, data) {
		t.Error("JPEG payload should be embedded without re-encoding")
	}
	if img.Width != 4 || img.Height != 3 {
		t.Errorf("dimensions = %dx%d, want 4x3", img.Width, img.Height)
	}
	if img.ColorSpace != ColorSpaceRGB || img.Components != 3 {
		t.Errorf("color space = %s/%d, want DeviceRGB/3", img.ColorSpace, img.Components)
	}
	if img.HasAlpha() {
		t.Error("JPEG should not carry an alpha mask")
	}
	samples, err := img.RawSamples()
	if err != nil {
		t.Fatalf("RawSamples: %v", err)
	}
	if len(samples) != 4*3*3 {
		t.Errorf("sample count = %d, want 36", len(samples))
	}
}

func TestFromBytesGrayscaleJPEG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	img, err := FromBytes(encodeJPEG(t, src))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if img.ColorSpace != ColorSpaceGray || img.Components != 1 {
		t.Errorf("color space = %s/%d, want DeviceGray/1", img.ColorSpace, img.Components)
	}
	if img.Filter != "DCTDecode" {
		t.Errorf("filter = %q, want DCTDecode", img.Filter)
	}
}

func TestFromBytesUnrecognized(t *testing.T) {
	if _, err := FromBytes([]byte("not an image at all")); !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("err = %v, want ErrDecodeFailed", err)
	}
}

func TestFromImageCMYK(t *testing.T) {
	src := image.NewCMYK(image.Rect(0, 0, 2, 1))
	img, err := FromImage(src)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if img.ColorSpace != ColorSpaceCMYK || img.Components != 4 {
		t.Fatalf("color space = %s/%d, want DeviceCMYK/4", img.ColorSpace, img.Components)
	}
	samples, err := img.RawSamples()
	if err != nil {
		t.Fatalf("RawSamples: %v", err)
	}
	if len(samples) != 2*1*4 {
		t.Errorf("sample count = %d, want 8", len(samples))
	}
}

func TestFromImageRejectsEmptyBounds(t *testing.T) {
	if _, err := FromImage(image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("err = %v, want ErrInvalidDimensions", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.png")
	if err := os.WriteFile(path, encodePNG(t, translucentFixture()), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	img, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if img.Width != 2 || img.Height != 2 {
		t.Errorf("dimensions = %dx%d, want 2x2", img.Width, img.Height)
	}
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// pngWithDensity splices a pHYs chunk in after IHDR.
func pngWithDensity(t *testing.T, img image.Image, pixelsPerMeter uint32) []byte {
	t.Helper()
	encoded := encodePNG(t, img)

	chunk := make([]byte, 9)
	binary.BigEndian.PutUint32(chunk[0:4], pixelsPerMeter)
	binary.BigEndian.PutUint32(chunk[4:8], pixelsPerMeter)
	chunk[8] = 1 // meters

	var phys bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 9)
	phys.Write(lenBuf[:])
	phys.WriteString("pHYs")
	phys.Write(chunk)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(append([]byte("pHYs"), chunk...)))
	phys.Write(crcBuf[:])

	// Signature (8) plus the fixed-size IHDR chunk (25) end at offset 33.
	out := append([]byte(nil), encoded[:33]...)
	out = append(out, phys.Bytes()...)
	return append(out, encoded[33:]...)
}

func TestPNGDensity(t *testing.T) {
	data := pngWithDensity(t, translucentFixture(), 5669) // 144 DPI in meters
	img, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if math.Abs(img.DPIx-144) > 0.05 || math.Abs(img.DPIy-144) > 0.05 {
		t.Errorf("density = %g x %g, want ~144", img.DPIx, img.DPIy)
	}

	plain, err := FromBytes(encodePNG(t, translucentFixture()))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if plain.DPIx != 72 || plain.DPIy != 72 {
		t.Errorf("default density = %g x %g, want 72 x 72", plain.DPIx, plain.DPIy)
	}
}

// jpegWithDensity splices a JFIF APP0 segment in right after SOI.
func jpegWithDensity(t *testing.T, img image.Image, units byte, x, y uint16) []byte {
	t.Helper()
	encoded := encodeJPEG(t, img)

	app0 := []byte{
		0xFF, 0xE0, 0x00, 0x10,
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x02, // version
		units,
		byte(x >> 8), byte(x), byte(y >> 8), byte(y),
		0x00, 0x00, // no thumbnail
	}
	out := append([]byte(nil), encoded[:2]...)
	out = append(out, app0...)
	return append(out, encoded[2:]...)
}

func TestJPEGDensity(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))

	img, err := FromBytes(jpegWithDensity(t, src, 1, 300, 150))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if img.DPIx != 300 || img.DPIy != 150 {
		t.Errorf("density = %g x %g, want 300 x 150", img.DPIx, img.DPIy)
	}

	img, err = FromBytes(jpegWithDensity(t, src, 2, 100, 100))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if img.DPIx != 254 || img.DPIy != 254 {
		t.Errorf("density = %g x %g, want 254 x 254", img.DPIx, img.DPIy)
	}

	plain, err := FromBytes(encodeJPEG(t, src))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if plain.DPIx != 72 || plain.DPIy != 72 {
		t.Errorf("default density = %g x %g, want 72 x 72", plain.DPIx, plain.DPIy)
	}
}

func TestXObject(t *testing.T) {
	doc := buildDoc(t)
	img, err := FromBytes(encodePNG(t, translucentFixture()))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	stream := img.XObject(doc)
	dict := stream.Dictionary
	if got := dict.GetName("Type"); got != "XObject" {
		t.Errorf("/Type = %q", got)
	}
	if got := dict.GetName("Subtype"); got != "Image" {
		t.Errorf("/Subtype = %q", got)
	}
	if w, _ := dict.GetInt("Width"); w != 2 {
		t.Errorf("/Width = %d", w)
	}
	if h, _ := dict.GetInt("Height"); h != 2 {
		t.Errorf("/Height = %d", h)
	}
	if got := dict.GetName("ColorSpace"); got != "DeviceRGB" {
		t.Errorf("/ColorSpace = %q", got)
	}
	if got := dict.GetName("Filter"); got != "FlateDecode" {
		t.Errorf("/Filter = %q", got)
	}
	if !bytes.Equal(stream.Data, img.Data) {
		t.Error("stream payload should be the filtered image data")
	}
	if stream.Decoded != nil {
		t.Error("filtered payload must not be mistaken for decoded bytes")
	}

	maskRef, ok := dict.GetReference("SMask")
	if !ok {
		t.Fatal("expected an /SMask reference")
	}
	maskObj, err := doc.GetObject(maskRef.ObjectNumber)
	if err != nil {
		t.Fatalf("resolve mask: %v", err)
	}
	mask, ok := maskObj.(*generic.StreamObject)
	if !ok {
		t.Fatalf("mask is %T, want stream", maskObj)
	}
	if got := mask.Dictionary.GetName("ColorSpace"); got != "DeviceGray" {
		t.Errorf("mask /ColorSpace = %q", got)
	}
	decoded, err := filters.Decode(mask)
	if err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	if !bytes.Equal(decoded, []byte{255, 255, 255, 128}) {
		t.Errorf("mask samples = %v", decoded)
	}
}

func TestXObjectOpaque(t *testing.T) {
	doc := buildDoc(t)
	img, err := FromBytes(encodePNG(t, image.NewGray(image.Rect(0, 0, 2, 2))))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	stream := img.XObject(doc)
	if stream.Dictionary.Has("SMask") {
		t.Error("opaque image should not reference a soft mask")
	}
	if got := stream.Dictionary.GetName("ColorSpace"); got != "DeviceGray" {
		t.Errorf("/ColorSpace = %q", got)
	}
}

func TestPointSize(t *testing.T) {
	img := &PDFImage{Width: 144, Height: 72, DPIx: 144, DPIy: 144}
	w, h := img.PointSize()
	if w != 72 || h != 36 {
		t.Errorf("size = %g x %g, want 72 x 36", w, h)
	}

	img = &PDFImage{Width: 100, Height: 50}
	w, h = img.PointSize()
	if w != 100 || h != 50 {
		t.Errorf("size with default density = %g x %g, want 100 x 50", w, h)
	}
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(encodePNG(t, translucentFixture()))
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if w != 2 || h != 2 {
		t.Errorf("dimensions = %dx%d, want 2x2", w, h)
	}
	if _, _, err := Dimensions([]byte("garbage")); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
}
