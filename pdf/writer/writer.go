// Package writer serializes PDF object graphs: full rewrites of a document
// and incremental updates appended after the original bytes, including the
// byte-range bookkeeping digital signatures depend on.
package writer

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
)

// header comment marking the file as binary, per convention.
var binaryMarker = []byte{0x25, 0xE2, 0xE3, 0xCF, 0xD3, 0x0A}

// WriteDocument serializes a complete document: header, the objects in
// slice order, a single-subsection cross-reference table and the trailer.
// Objects must be numbered consecutively from 1. The trailer dictionary
// supplies /Root and friends; /Size is set here.
func WriteDocument(out io.Writer, version string, objects []*generic.IndirectObject, trailer *generic.DictionaryObject) error {
	if version == "" {
		version = "1.7"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", version)
	buf.Write(binaryMarker)

	offsets := make([]int64, len(objects))
	for i, obj := range objects {
		if obj.ObjectNumber != i+1 {
			return fmt.Errorf("object %d written out of sequence (number %d)", i+1, obj.ObjectNumber)
		}
		offsets[i] = int64(buf.Len())
		if err := obj.Write(&buf); err != nil {
			return err
		}
	}

	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	fmt.Fprintf(&buf, "%010d %05d f \n", 0, 65535)
	for i := range objects {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[i], objects[i].GenerationNumber)
	}

	trailer.Set("Size", generic.IntegerObject(len(objects)+1))
	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// NewFileID returns a fresh 16-byte file identifier.
func NewFileID() []byte {
	id := make([]byte, 16)
	rand.Read(id)
	return id
}

// PdfFileWriter builds a new PDF document from scratch.
type PdfFileWriter struct {
	Version string
	Root    *generic.DictionaryObject
	Pages   *generic.DictionaryObject
	Info    *generic.DictionaryObject

	objects  []*generic.IndirectObject
	pageRefs []generic.Reference
	pagesRef generic.Reference
	rootRef  generic.Reference
	infoRef  generic.Reference
	fileID   []byte
}

// NewPdfFileWriter creates a writer with an empty page tree.
func NewPdfFileWriter(version string) *PdfFileWriter {
	if version == "" {
		version = "1.7"
	}
	w := &PdfFileWriter{Version: version}

	w.Pages = generic.NewDictionary()
	w.Pages.Set("Type", generic.NameObject("Pages"))
	w.Pages.Set("Kids", generic.ArrayObject{})
	w.Pages.Set("Count", generic.IntegerObject(0))
	w.pagesRef = w.AddObject(w.Pages)

	w.Root = generic.NewDictionary()
	w.Root.Set("Type", generic.NameObject("Catalog"))
	w.Root.Set("Pages", w.pagesRef)
	w.rootRef = w.AddObject(w.Root)

	return w
}

// AddObject appends obj to the document and returns its reference.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	num := len(w.objects) + 1
	w.objects = append(w.objects, generic.NewIndirectObject(num, 0, obj))
	return generic.NewReference(num, 0)
}

// AddPage appends a page with the given media box. A non-nil content
// stream is compressed and attached as /Contents. The page reference is
// returned so callers can attach annotations.
func (w *PdfFileWriter) AddPage(mediaBox generic.Rectangle, contents []byte) generic.Reference {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", w.pagesRef)
	page.Set("MediaBox", mediaBox.ToArray())

	if contents != nil {
		dict := generic.NewDictionary()
		dict.Set("Filter", generic.NameObject("FlateDecode"))
		stream := generic.NewStream(dict, filters.FlateEncode(contents))
		stream.Decoded = contents
		page.Set("Contents", w.AddObject(stream))
	}

	pageRef := w.AddObject(page)
	w.pageRefs = append(w.pageRefs, pageRef)

	kids := w.Pages.GetArray("Kids")
	w.Pages.Set("Kids", append(kids, pageRef))
	w.Pages.Set("Count", generic.IntegerObject(len(w.pageRefs)))
	return pageRef
}

// PageRef returns the reference of the page at index.
func (w *PdfFileWriter) PageRef(index int) (generic.Reference, error) {
	if index < 0 || index >= len(w.pageRefs) {
		return generic.Reference{}, fmt.Errorf("page index %d out of range [0, %d)", index, len(w.pageRefs))
	}
	return w.pageRefs[index], nil
}

// SetFileID overrides the randomly generated file identifier.
func (w *PdfFileWriter) SetFileID(id []byte) { w.fileID = id }

// Write serializes the document to out.
func (w *PdfFileWriter) Write(out io.Writer) error {
	trailer := generic.NewDictionary()
	trailer.Set("Root", w.rootRef)

	if w.Info != nil && w.infoRef.ObjectNumber == 0 {
		w.infoRef = w.AddObject(w.Info)
	}
	if w.infoRef.ObjectNumber != 0 {
		trailer.Set("Info", w.infoRef)
	}

	if w.fileID == nil {
		w.fileID = NewFileID()
	}
	trailer.Set("ID", generic.ArrayObject{
		generic.NewHexString(w.fileID),
		generic.NewHexString(w.fileID),
	})

	return WriteDocument(out, w.Version, w.objects, trailer)
}

// Bytes serializes the document into a fresh buffer.
func (w *PdfFileWriter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
