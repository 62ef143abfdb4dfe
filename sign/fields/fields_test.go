package fields

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
)

func buildReader(t *testing.T, pages int) *reader.PdfFileReader {
	t.Helper()
	w := writer.NewPdfFileWriter("1.7")
	for i := 0; i < pages; i++ {
		w.AddPage(generic.Rectangle{URX: 612, URY: 792}, []byte("BT ET"))
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	return r
}

// buildInlineFormReader assembles a file whose catalog holds the AcroForm
// as a direct dictionary, optionally with one already signed field.
func buildInlineFormReader(t *testing.T, signed bool) *reader.PdfFileReader {
	t.Helper()
	letter := generic.Rectangle{URX: 612, URY: 792}

	pagesNode := generic.NewDictionary()
	pagesNode.Set("Type", generic.NameObject("Pages"))
	pagesNode.Set("Kids", generic.ArrayObject{generic.NewReference(2, 0)})
	pagesNode.Set("Count", generic.IntegerObject(1))

	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", generic.NewReference(1, 0))
	page.Set("MediaBox", letter.ToArray())

	form := generic.NewDictionary()
	form.Set("Fields", generic.ArrayObject{})
	form.Set("SigFlags", generic.IntegerObject(0))

	objects := []*generic.IndirectObject{
		generic.NewIndirectObject(1, 0, pagesNode),
		generic.NewIndirectObject(2, 0, page),
	}

	if signed {
		sigDict := generic.NewDictionary()
		sigDict.Set("Type", generic.NameObject("Sig"))

		field := generic.NewDictionary()
		field.Set("FT", generic.NameObject("Sig"))
		field.Set("T", generic.NewTextString("Signature1"))
		field.Set("V", generic.NewReference(4, 0))

		objects = append(objects,
			generic.NewIndirectObject(3, 0, field),
			generic.NewIndirectObject(4, 0, sigDict))
		form.Set("Fields", generic.ArrayObject{generic.NewReference(3, 0)})
	}

	catalog := generic.NewDictionary()
	catalog.Set("Type", generic.NameObject("Catalog"))
	catalog.Set("Pages", generic.NewReference(1, 0))
	catalog.Set("AcroForm", form)
	objects = append(objects, generic.NewIndirectObject(len(objects)+1, 0, catalog))

	trailer := generic.NewDictionary()
	trailer.Set("Root", generic.NewReference(len(objects), 0))

	var buf bytes.Buffer
	if err := writer.WriteDocument(&buf, "1.7", objects, trailer); err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}
	return r
}

func reload(t *testing.T, w *writer.IncrementalWriter) *reader.PdfFileReader {
	t.Helper()
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("writing update: %v", err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatalf("reloading update: %v", err)
	}
	return r
}

func TestAddCreatesAcroForm(t *testing.T) {
	r := buildReader(t, 1)
	w := writer.NewIncrementalWriter(r)

	ref, field, err := Add(w, Spec{Name: "Signature1"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := field.GetName("FT"); got != "Sig" {
		t.Errorf("/FT = %q", got)
	}
	if got := field.GetName("Subtype"); got != "Widget" {
		t.Errorf("/Subtype = %q", got)
	}
	if got := field.GetString("T"); got == nil || got.Text() != "Signature1" {
		t.Errorf("/T = %v", got)
	}
	if f, _ := field.GetInt("F"); f != 132 {
		t.Errorf("/F = %d, want 132", f)
	}
	rect, err := generic.NewRectangle(field.GetArray("Rect"))
	if err != nil {
		t.Fatalf("/Rect: %v", err)
	}
	if rect.Width() != 0 || rect.Height() != 0 {
		t.Errorf("invisible field has rect %v", rect)
	}

	root, _, err := w.Root()
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	formRef, ok := root.Get("AcroForm").(generic.Reference)
	if !ok {
		t.Fatalf("catalog /AcroForm = %T, want reference", root.Get("AcroForm"))
	}
	formObj, err := w.GetObject(formRef.ObjectNumber)
	if err != nil {
		t.Fatalf("resolving AcroForm: %v", err)
	}
	form := formObj.(*generic.DictionaryObject)
	if flags, _ := form.GetInt("SigFlags"); flags != 3 {
		t.Errorf("/SigFlags = %d, want 3", flags)
	}
	if fields := form.GetArray("Fields"); len(fields) != 1 || fields[0] != generic.PdfObject(ref) {
		t.Errorf("/Fields = %v", fields)
	}

	page, err := r.GetPage(0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	pageObj, err := w.GetObject(page.Ref.ObjectNumber)
	if err != nil {
		t.Fatalf("resolving page: %v", err)
	}
	annots := pageObj.(*generic.DictionaryObject).GetArray("Annots")
	if len(annots) != 1 || annots[0] != generic.PdfObject(ref) {
		t.Errorf("/Annots = %v", annots)
	}
}

func TestAddRoundTrip(t *testing.T) {
	r := buildReader(t, 2)
	original := append([]byte(nil), r.Data()...)

	w := writer.NewIncrementalWriter(r)
	if _, _, err := Add(w, Spec{Name: "Signature1", Page: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.HasPrefix(data, original) {
		t.Fatal("incremental update must preserve the original bytes")
	}

	r2, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	fields := List(r2)
	if len(fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(fields))
	}
	if fields[0].Name != "Signature1" || fields[0].Signed {
		t.Errorf("field = %+v", fields[0])
	}
}

func TestAddVisibleBox(t *testing.T) {
	r := buildReader(t, 1)
	w := writer.NewIncrementalWriter(r)

	box := generic.Rectangle{LLX: 100, LLY: 100, URX: 300, URY: 160}
	_, field, err := Add(w, Spec{Name: "Signature1", Box: &box})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	rect, err := generic.NewRectangle(field.GetArray("Rect"))
	if err != nil {
		t.Fatalf("/Rect: %v", err)
	}
	if rect.Width() != 200 || rect.Height() != 60 {
		t.Errorf("rect is %g x %g, want 200 x 60", rect.Width(), rect.Height())
	}
}

func TestAddValidation(t *testing.T) {
	r := buildReader(t, 1)

	if _, _, err := Add(writer.NewIncrementalWriter(r), Spec{}); !errors.Is(err, ErrInvalidFieldSpec) {
		t.Errorf("empty name: err = %v, want ErrInvalidFieldSpec", err)
	}
	if _, _, err := Add(writer.NewIncrementalWriter(r), Spec{Name: "Sig", Page: 5}); err == nil {
		t.Error("expected an error for a page index out of range")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	r := buildReader(t, 1)
	w := writer.NewIncrementalWriter(r)
	if _, _, err := Add(w, Spec{Name: "Signature1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	r2 := reload(t, w)
	if _, _, err := Add(writer.NewIncrementalWriter(r2), Spec{Name: "Signature1"}); !errors.Is(err, ErrDuplicateFieldName) {
		t.Errorf("err = %v, want ErrDuplicateFieldName", err)
	}
}

func TestAddToExistingAcroForm(t *testing.T) {
	r := buildReader(t, 1)

	w := writer.NewIncrementalWriter(r)
	if _, _, err := Add(w, Spec{Name: "Signature1"}); err != nil {
		t.Fatalf("first Add: %v", err)
	}

	w2 := writer.NewIncrementalWriter(reload(t, w))
	if _, _, err := Add(w2, Spec{Name: "Signature2"}); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	names := FieldNames(reload(t, w2))
	if len(names) != 2 || names[0] != "Signature1" || names[1] != "Signature2" {
		t.Errorf("field names = %v", names)
	}
}

func TestAddToInlineAcroForm(t *testing.T) {
	r := buildInlineFormReader(t, false)
	w := writer.NewIncrementalWriter(r)
	if _, _, err := Add(w, Spec{Name: "Signature1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if names := FieldNames(reload(t, w)); len(names) != 1 || names[0] != "Signature1" {
		t.Errorf("field names = %v", names)
	}
}

func TestEnsureSigFlags(t *testing.T) {
	cases := []struct {
		existing int64
		want     int64
	}{
		{0, 3},
		{1, 3},
		{3, 3},
		{4, 7},
	}
	for _, tc := range cases {
		form := generic.NewDictionary()
		form.Set("SigFlags", generic.IntegerObject(tc.existing))
		EnsureSigFlags(form, FlagSignaturesExist|FlagAppendOnly)
		if got, _ := form.GetInt("SigFlags"); got != tc.want {
			t.Errorf("SigFlags %d -> %d, want %d", tc.existing, got, tc.want)
		}
	}
}

func TestFindEmpty(t *testing.T) {
	r := buildInlineFormReader(t, true)

	if _, err := FindEmpty(r, "Signature1"); !errors.Is(err, ErrFieldAlreadySigned) {
		t.Errorf("signed field: err = %v, want ErrFieldAlreadySigned", err)
	}
	if _, err := FindEmpty(r, "Nothing"); !errors.Is(err, ErrNoSignatureField) {
		t.Errorf("missing field: err = %v, want ErrNoSignatureField", err)
	}

	w := writer.NewIncrementalWriter(buildReader(t, 1))
	if _, _, err := Add(w, Spec{Name: "Approval"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	field, err := FindEmpty(reload(t, w), "Approval")
	if err != nil {
		t.Fatalf("FindEmpty: %v", err)
	}
	if field.Name != "Approval" || field.Signed {
		t.Errorf("field = %+v", field)
	}
}

func TestNextAvailableName(t *testing.T) {
	r := buildReader(t, 1)
	if got := NextAvailableName(r, "Signature"); got != "Signature1" {
		t.Errorf("NextAvailableName = %q, want Signature1", got)
	}

	signed := buildInlineFormReader(t, true)
	if got := NextAvailableName(signed, "Signature"); got != "Signature2" {
		t.Errorf("NextAvailableName = %q, want Signature2", got)
	}
}
