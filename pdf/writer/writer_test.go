package writer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
)

func letterPage() generic.Rectangle {
	return generic.Rectangle{URX: 612, URY: 792}
}

func buildTwoPageFile(t *testing.T) []byte {
	t.Helper()
	w := NewPdfFileWriter("1.7")
	w.AddPage(letterPage(), []byte("BT /F1 12 Tf 72 720 Td (first) Tj ET"))
	w.AddPage(letterPage(), []byte("BT /F1 12 Tf 72 720 Td (second) Tj ET"))
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return data
}

func TestWriterReaderRoundTrip(t *testing.T) {
	data := buildTwoPageFile(t)

	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatalf("re-reading written file: %v", err)
	}
	if r.PageCount() != 2 {
		t.Fatalf("PageCount = %d, want 2", r.PageCount())
	}
	if r.Root.GetName("Type") != "Catalog" {
		t.Errorf("Root /Type = %q, want Catalog", r.Root.GetName("Type"))
	}

	page, err := r.GetPage(0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	contents, err := r.Resolve(page.Dict.Get("Contents"))
	if err != nil {
		t.Fatalf("resolving contents: %v", err)
	}
	stream, ok := contents.(*generic.StreamObject)
	if !ok {
		t.Fatalf("contents is %T, want stream", contents)
	}
	decoded, err := filters.Decode(stream)
	if err != nil {
		t.Fatalf("decoding contents: %v", err)
	}
	if !bytes.Contains(decoded, []byte("(first)")) {
		t.Errorf("decoded contents %q missing text operator", decoded)
	}
}

func TestWriteDocumentRejectsGaps(t *testing.T) {
	objects := []*generic.IndirectObject{
		generic.NewIndirectObject(1, 0, generic.NewDictionary()),
		generic.NewIndirectObject(3, 0, generic.NewDictionary()),
	}
	trailer := generic.NewDictionary()
	trailer.Set("Root", generic.NewReference(1, 0))

	var buf bytes.Buffer
	if err := WriteDocument(&buf, "1.7", objects, trailer); err == nil {
		t.Error("expected error for non-consecutive object numbers")
	}
}

func TestIncrementalUpdatePreservesOriginalBytes(t *testing.T) {
	original := buildTwoPageFile(t)
	r, err := reader.NewPdfFileReaderFromBytes(original)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	w := NewIncrementalWriter(r)
	page, _ := r.GetPage(0)
	updated := page.Dict.Clone().(*generic.DictionaryObject)
	updated.Set("Rotate", generic.IntegerObject(90))
	if err := w.UpdatePage(0, updated); err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}

	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	if !bytes.HasPrefix(out, original) {
		t.Fatal("incremental update must leave the original bytes untouched")
	}

	r2, err := reader.NewPdfFileReaderFromBytes(out)
	if err != nil {
		t.Fatalf("re-reading updated file: %v", err)
	}
	if len(r2.XRefOffsets) != 2 {
		t.Errorf("XRefOffsets = %d, want 2 revisions", len(r2.XRefOffsets))
	}
	page2, err := r2.GetPage(0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if rot, _ := page2.Dict.GetInt("Rotate"); rot != 90 {
		t.Errorf("updated /Rotate = %d, want 90", rot)
	}
	if r2.PageCount() != 2 {
		t.Errorf("PageCount = %d, want 2", r2.PageCount())
	}

	// The second page is untouched and still resolved from the original
	// revision.
	page3, _ := r2.GetPage(1)
	if page3.Dict.Has("Rotate") {
		t.Error("second page should not carry the new /Rotate")
	}
}

func TestIncrementalWriteRequiresChanges(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(buildTwoPageFile(t))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	w := NewIncrementalWriter(r)

	var buf bytes.Buffer
	if err := w.Write(&buf); !errors.Is(err, ErrNothingToIncrement) {
		t.Errorf("got %v, want ErrNothingToIncrement", err)
	}
}

func TestIncrementalObjectNumbering(t *testing.T) {
	r, err := reader.NewPdfFileReaderFromBytes(buildTwoPageFile(t))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	w := NewIncrementalWriter(r)

	base := w.NextObjectNumber()
	if base != r.MaxObjectNumber()+1 {
		t.Errorf("NextObjectNumber = %d, want %d", base, r.MaxObjectNumber()+1)
	}
	ref := w.AddObject(generic.IntegerObject(1))
	if ref.ObjectNumber != base {
		t.Errorf("AddObject number = %d, want %d", ref.ObjectNumber, base)
	}
	if w.NextObjectNumber() != base+1 {
		t.Errorf("NextObjectNumber after add = %d, want %d", w.NextObjectNumber(), base+1)
	}

	obj, err := w.GetObject(ref.ObjectNumber)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj != generic.IntegerObject(1) {
		t.Errorf("GetObject = %v, want pending object", obj)
	}
}

func newTestPlaceholder(w *IncrementalWriter, contentsSize int) *SignaturePlaceholder {
	sigDict := generic.NewDictionary()
	sigDict.Set("Type", generic.NameObject("Sig"))
	sigDict.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	sigDict.Set("SubFilter", generic.NameObject("adbe.pkcs7.detached"))
	sigDict.Set("ByteRange", generic.ArrayObject{
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(0), generic.IntegerObject(0),
	})
	sigDict.Set("Contents", generic.NewHexString(make([]byte, contentsSize)))
	sigDict.Set("Reason", generic.NewLiteralString("testing"))

	return &SignaturePlaceholder{
		SigDict:      sigDict,
		SigDictRef:   w.AddObject(sigDict),
		ContentsSize: contentsSize,
	}
}

func TestWriteWithSignaturePlaceholder(t *testing.T) {
	original := buildTwoPageFile(t)
	r, err := reader.NewPdfFileReaderFromBytes(original)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	w := NewIncrementalWriter(r)
	placeholder := newTestPlaceholder(w, 64)

	info, err := w.WriteWithSignature(placeholder)
	if err != nil {
		t.Fatalf("WriteWithSignature: %v", err)
	}

	if !bytes.HasPrefix(info.Data, original) {
		t.Fatal("signed serialization must preserve the original bytes")
	}
	if info.ByteRange[0] != 0 {
		t.Errorf("ByteRange[0] = %d, want 0", info.ByteRange[0])
	}
	if info.ByteRange[2]+info.ByteRange[3] != int64(len(info.Data)) {
		t.Errorf("byte range does not reach end of file")
	}

	// The gap between the two ranges is exactly <hex digits>.
	gapStart := info.ByteRange[1]
	gapEnd := info.ByteRange[2]
	if info.Data[gapStart] != '<' || info.Data[gapEnd-1] != '>' {
		t.Errorf("contents gap delimiters = %q %q", info.Data[gapStart], info.Data[gapEnd-1])
	}
	if gapEnd-gapStart != int64(2+64*2) {
		t.Errorf("contents gap = %d bytes, want %d", gapEnd-gapStart, 2+64*2)
	}

	if got := int64(len(info.DataToSign())); got != info.ByteRange[1]+info.ByteRange[3] {
		t.Errorf("DataToSign length = %d, want %d", got, info.ByteRange[1]+info.ByteRange[3])
	}

	// The patched byte range must have replaced the zero placeholder.
	if bytes.Contains(info.Data, []byte("[0000000000 0000000000 0000000000 0000000000]")) {
		t.Error("byte range placeholder was not patched")
	}
}

func TestEmbedSignature(t *testing.T) {
	original := buildTwoPageFile(t)
	r, err := reader.NewPdfFileReaderFromBytes(original)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	w := NewIncrementalWriter(r)
	info, err := w.WriteWithSignature(newTestPlaceholder(w, 8))
	if err != nil {
		t.Fatalf("WriteWithSignature: %v", err)
	}

	signed, err := info.EmbedSignature([]byte{0xAB, 0xCD})
	if err != nil {
		t.Fatalf("EmbedSignature: %v", err)
	}
	got := string(signed[info.ContentsOffset : info.ContentsOffset+16])
	if got != "ABCD000000000000" {
		t.Errorf("embedded hex = %q, want ABCD padded with zeros", got)
	}

	// The reservation is eight bytes; nine must not fit.
	if _, err := info.EmbedSignature(make([]byte, 9)); !errors.Is(err, ErrSignatureTooLarge) {
		t.Errorf("got %v, want ErrSignatureTooLarge", err)
	}

	// A full-width signature fits exactly.
	if _, err := info.EmbedSignature(make([]byte, 8)); err != nil {
		t.Errorf("full-width signature should fit: %v", err)
	}

	// The embedded file still parses.
	if _, err := reader.NewPdfFileReaderFromBytes(signed); err != nil {
		t.Errorf("signed file no longer parses: %v", err)
	}
}
