// Package document is the façade the editing components work through. A
// Document tracks pending object mutations over a parsed file, keeps the
// page list in step with the mutated graph, and serializes back to bytes
// either as a full rewrite or as an incremental update.
package document

import (
	"fmt"
	"os"
	"sort"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
)

// Document is a parsed file plus its pending mutations. Pending objects
// shadow the originals on every lookup, so components always observe the
// mutated graph. A Document is not safe for concurrent use.
type Document struct {
	reader  *reader.PdfFileReader
	objects map[int]generic.PdfObject
	nextNum int

	pages []reader.Page
	stale bool
}

// Load parses data into a Document. The caller keeps ownership of data;
// the Document works on its own copy.
func Load(data []byte) (*Document, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	r, err := reader.NewPdfFileReaderFromBytes(buf)
	if err != nil {
		return nil, err
	}
	return newDocument(r), nil
}

// LoadFile reads and parses the file at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, err
	}
	return newDocument(r), nil
}

func newDocument(r *reader.PdfFileReader) *Document {
	return &Document{
		reader:  r,
		objects: make(map[int]generic.PdfObject),
		nextNum: r.MaxObjectNumber() + 1,
		pages:   append([]reader.Page(nil), r.Pages...),
	}
}

// Reader exposes the underlying parsed file, including signature discovery.
func (d *Document) Reader() *reader.PdfFileReader { return d.reader }

// Version returns the header version of the underlying file.
func (d *Document) Version() string { return d.reader.Version }

// RootRef returns the reference to the document catalog.
func (d *Document) RootRef() generic.Reference { return d.reader.RootRef }

// Catalog returns the document catalog, reflecting pending updates.
func (d *Document) Catalog() (*generic.DictionaryObject, error) {
	return d.ResolveDict(d.reader.RootRef)
}

// Info returns the document information dictionary, or nil when absent.
func (d *Document) Info() *generic.DictionaryObject {
	infoRef, ok := d.reader.Trailer.GetReference("Info")
	if !ok {
		return nil
	}
	dict, err := d.ResolveDict(infoRef)
	if err != nil {
		return nil
	}
	return dict
}

// Modified reports whether any mutation is pending.
func (d *Document) Modified() bool { return len(d.objects) > 0 }

// GetObject returns the current version of an object: a pending mutation
// when one exists, otherwise the object from the file.
func (d *Document) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := d.objects[objNum]; ok {
		return obj, nil
	}
	return d.reader.GetObject(objNum)
}

// Resolve follows obj through one level of indirection if it is a
// reference; any other object is returned unchanged.
func (d *Document) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		return d.GetObject(ref.ObjectNumber)
	}
	return obj, nil
}

// ResolveDict resolves obj and asserts the result is a dictionary. Stream
// objects satisfy the lookup through their stream dictionary.
func (d *Document) ResolveDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *generic.DictionaryObject:
		return v, nil
	case *generic.StreamObject:
		return v.Dictionary, nil
	}
	return nil, fmt.Errorf("expected dictionary, got %T", resolved)
}

// Add registers a new object and returns its reference.
func (d *Document) Add(obj generic.PdfObject) generic.Reference {
	num := d.nextNum
	d.nextNum++
	d.objects[num] = obj
	d.stale = true
	return generic.NewReference(num, 0)
}

// Update schedules a replacement for the object with the given number.
func (d *Document) Update(objNum int, obj generic.PdfObject) {
	d.objects[objNum] = obj
	d.stale = true
}

// Pages returns the leaf pages in document order, recomputed from the
// mutated graph when necessary.
func (d *Document) Pages() ([]reader.Page, error) {
	if err := d.refreshPages(); err != nil {
		return nil, err
	}
	return d.pages, nil
}

// PageCount returns the number of leaf pages, or 0 when the page tree
// cannot be walked.
func (d *Document) PageCount() int {
	pages, err := d.Pages()
	if err != nil {
		return 0
	}
	return len(pages)
}

// Page returns the page at the zero-based index.
func (d *Document) Page(index int) (reader.Page, error) {
	pages, err := d.Pages()
	if err != nil {
		return reader.Page{}, err
	}
	if index < 0 || index >= len(pages) {
		return reader.Page{}, fmt.Errorf("page index %d out of range [0, %d)", index, len(pages))
	}
	return pages[index], nil
}

// UpdatePage schedules a replacement dictionary for the page at index.
func (d *Document) UpdatePage(index int, dict *generic.DictionaryObject) error {
	page, err := d.Page(index)
	if err != nil {
		return err
	}
	d.Update(page.Ref.ObjectNumber, dict)
	return nil
}

func (d *Document) refreshPages() error {
	if !d.stale {
		return nil
	}
	root, err := d.Catalog()
	if err != nil {
		return err
	}
	pagesRef, ok := root.GetReference("Pages")
	if !ok {
		return fmt.Errorf("catalog has no /Pages reference")
	}
	node, err := d.ResolveDict(pagesRef)
	if err != nil {
		return fmt.Errorf("loading page tree: %w", err)
	}
	var pages []reader.Page
	if err := d.walkPages(pagesRef, node, make(map[int]bool), &pages); err != nil {
		return err
	}
	d.pages = pages
	d.stale = false
	return nil
}

// walkPages mirrors the reader's page-tree walk, but resolves every node
// through the pending object set.
func (d *Document) walkPages(ref generic.Reference, node *generic.DictionaryObject, visited map[int]bool, out *[]reader.Page) error {
	if visited[ref.ObjectNumber] {
		return nil
	}
	visited[ref.ObjectNumber] = true

	if node.GetName("Type") == "Page" || (!node.Has("Kids") && node.Has("Contents")) {
		*out = append(*out, reader.Page{Ref: ref, Dict: node})
		return nil
	}

	for _, kid := range node.GetArray("Kids") {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		kidObj, err := d.GetObject(kidRef.ObjectNumber)
		if err != nil {
			return fmt.Errorf("page tree kid %d: %w", kidRef.ObjectNumber, err)
		}
		kidDict, ok := kidObj.(*generic.DictionaryObject)
		if !ok {
			continue
		}
		if err := d.walkPages(kidRef, kidDict, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// IncrementalWriter returns an incremental writer primed with every pending
// mutation. Callers that must track serialization offsets (signing) add
// their objects to the returned writer and serialize through it.
func (d *Document) IncrementalWriter() (*writer.IncrementalWriter, error) {
	w := writer.NewIncrementalWriter(d.reader)
	maxOrig := d.reader.MaxObjectNumber()

	nums := make([]int, 0, len(d.objects))
	for num := range d.objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	for _, num := range nums {
		if num <= maxOrig {
			w.UpdateObject(num, d.objects[num])
			continue
		}
		// Added objects were numbered consecutively from maxOrig+1, so
		// replaying them in ascending order reproduces the same numbers.
		if ref := w.AddObject(d.objects[num]); ref.ObjectNumber != num {
			return nil, fmt.Errorf("object numbering drifted: replayed %d as %d", num, ref.ObjectNumber)
		}
	}
	return w, nil
}

// IncrementalUpdate serializes the pending mutations as an appended
// revision, leaving every original byte in place. This is the save mode
// that keeps existing signatures valid.
func (d *Document) IncrementalUpdate() ([]byte, error) {
	w, err := d.IncrementalWriter()
	if err != nil {
		return nil, err
	}
	return w.Bytes()
}
