// Package reader parses PDF files into the object model: header, the
// cross-reference chain (tables and streams), the page tree and any
// signature fields. Documents with a damaged cross-reference structure are
// rebuilt by scanning for object markers before the load is abandoned.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
)

// Reader errors.
var (
	ErrMalformedStructure    = errors.New("malformed document structure")
	ErrEncryptionUnsupported = errors.New("encrypted documents are not supported")
	ErrObjectNotFound        = errors.New("object not found")
	ErrInvalidXRef           = errors.New("invalid cross-reference data")
)

var headerPattern = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// Page pairs a leaf page dictionary with the reference it was loaded
// through, so page operations can address the underlying object.
type Page struct {
	Ref  generic.Reference
	Dict *generic.DictionaryObject
}

// PdfFileReader holds a parsed PDF file. Objects are resolved lazily and
// cached on first access.
type PdfFileReader struct {
	data    []byte
	objects map[int]generic.PdfObject

	Version string
	XRef    map[int]*XRefEntry

	// Trailer is the newest trailer dictionary; Trailers and XRefOffsets
	// record the whole /Prev chain, newest first.
	Trailer     *generic.DictionaryObject
	Trailers    []*generic.DictionaryObject
	XRefOffsets []int64

	RootRef  generic.Reference
	Root     *generic.DictionaryObject
	Info     *generic.DictionaryObject
	Pages    []Page
	AcroForm *generic.DictionaryObject

	// Recovered is set when the cross-reference data could not be used and
	// the object table was rebuilt by scanning the file.
	Recovered bool
}

// NewPdfFileReader reads all of r and parses it as a PDF file.
func NewPdfFileReader(r io.Reader) (*PdfFileReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return NewPdfFileReaderFromBytes(data)
}

// NewPdfFileReaderFromBytes parses data as a PDF file. The buffer is not
// copied; callers must not mutate it afterwards.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:    data,
		objects: make(map[int]generic.PdfObject),
		XRef:    make(map[int]*XRefEntry),
	}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PdfFileReader) parse() error {
	if err := r.parseHeader(); err != nil {
		return err
	}

	xrefErr := r.loadXRef()
	if xrefErr == nil {
		if r.Trailer.Has("Encrypt") {
			return ErrEncryptionUnsupported
		}
		xrefErr = r.loadCatalog()
		if xrefErr == nil {
			return nil
		}
	}

	// The cross-reference data is unusable or points at garbage. Rebuild
	// the object table from the raw bytes and try once more.
	if err := r.rebuildByScan(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStructure, xrefErr)
	}
	r.Recovered = true

	if r.Trailer.Has("Encrypt") {
		return ErrEncryptionUnsupported
	}
	if err := r.loadCatalog(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStructure, err)
	}
	return nil
}

// parseHeader locates the %PDF-n.m marker. Some producers prepend junk
// bytes, so the first kilobyte is searched rather than only offset zero.
func (r *PdfFileReader) parseHeader() error {
	limit := len(r.data)
	if limit > 1024 {
		limit = 1024
	}
	m := headerPattern.FindSubmatch(r.data[:limit])
	if m == nil {
		return fmt.Errorf("%w: missing PDF header", ErrMalformedStructure)
	}
	r.Version = string(m[1])
	return nil
}

// loadXRef locates startxref and walks the /Prev chain, merging entries
// newest-first so later revisions shadow earlier ones.
func (r *PdfFileReader) loadXRef() error {
	pos := bytes.LastIndex(r.data, []byte("startxref"))
	if pos == -1 {
		return fmt.Errorf("%w: startxref not found", ErrInvalidXRef)
	}
	offset, err := parseOffsetAfter(r.data[pos+len("startxref"):])
	if err != nil {
		return err
	}
	return r.walkXRefChain(offset)
}

func parseOffsetAfter(data []byte) (int64, error) {
	i := 0
	for i < len(data) && generic.IsWhitespace(data[i]) {
		i++
	}
	start := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if start == i {
		return 0, fmt.Errorf("%w: missing offset digits", ErrInvalidXRef)
	}
	return strconv.ParseInt(string(data[start:i]), 10, 64)
}

func (r *PdfFileReader) walkXRefChain(offset int64) error {
	visited := make(map[int64]bool)
	for offset > 0 {
		if visited[offset] {
			return fmt.Errorf("%w: /Prev cycle at offset %d", ErrInvalidXRef, offset)
		}
		visited[offset] = true

		trailer, err := r.parseXRefSection(offset)
		if err != nil {
			return err
		}
		r.XRefOffsets = append(r.XRefOffsets, offset)
		r.Trailers = append(r.Trailers, trailer)
		if r.Trailer == nil {
			r.Trailer = trailer
		}

		prev, ok := trailer.GetInt("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	if r.Trailer == nil {
		return fmt.Errorf("%w: empty cross-reference chain", ErrInvalidXRef)
	}
	return nil
}

// loadCatalog resolves the document catalog, info dictionary, page tree and
// interactive form dictionary out of the merged cross-reference view.
func (r *PdfFileReader) loadCatalog() error {
	rootRef, ok := r.Trailer.GetReference("Root")
	if !ok {
		return fmt.Errorf("%w: trailer has no /Root reference", ErrInvalidXRef)
	}
	root, err := r.resolveDictRef(rootRef)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	r.RootRef = rootRef
	r.Root = root

	if infoRef, ok := r.Trailer.GetReference("Info"); ok {
		if info, err := r.resolveDictRef(infoRef); err == nil {
			r.Info = info
		}
	}

	r.Pages = nil
	pagesRef, ok := root.GetReference("Pages")
	if !ok {
		return fmt.Errorf("%w: catalog has no /Pages reference", ErrInvalidXRef)
	}
	pagesDict, err := r.resolveDictRef(pagesRef)
	if err != nil {
		return fmt.Errorf("loading page tree: %w", err)
	}
	visited := make(map[int]bool)
	if err := r.walkPageTree(pagesRef, pagesDict, visited); err != nil {
		return err
	}

	r.AcroForm = nil
	switch form := r.Root.Get("AcroForm").(type) {
	case generic.Reference:
		if dict, err := r.resolveDictRef(form); err == nil {
			r.AcroForm = dict
		}
	case *generic.DictionaryObject:
		r.AcroForm = form
	}
	return nil
}

// walkPageTree collects leaf pages left to right. Nodes are tracked by
// object number so a damaged tree with a reference cycle terminates.
func (r *PdfFileReader) walkPageTree(ref generic.Reference, node *generic.DictionaryObject, visited map[int]bool) error {
	if visited[ref.ObjectNumber] {
		return nil
	}
	visited[ref.ObjectNumber] = true

	if node.GetName("Type") == "Page" || (!node.Has("Kids") && node.Has("Contents")) {
		r.Pages = append(r.Pages, Page{Ref: ref, Dict: node})
		return nil
	}

	for _, kid := range node.GetArray("Kids") {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		kidObj, err := r.GetObject(kidRef.ObjectNumber)
		if err != nil {
			return fmt.Errorf("page tree kid %d: %w", kidRef.ObjectNumber, err)
		}
		kidDict, ok := kidObj.(*generic.DictionaryObject)
		if !ok {
			continue
		}
		if err := r.walkPageTree(kidRef, kidDict, visited); err != nil {
			return err
		}
	}
	return nil
}

// GetObject returns the object with the given number, parsing it on first
// access. Free entries and unknown numbers report ErrObjectNotFound.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}

	entry, ok := r.XRef[objNum]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", ErrObjectNotFound, objNum)
	}
	if entry.Free {
		return nil, fmt.Errorf("%w: object %d is free", ErrObjectNotFound, objNum)
	}

	var (
		obj generic.PdfObject
		err error
	)
	if entry.ContainerNum > 0 {
		obj, err = r.objectFromStream(entry.ContainerNum, entry.ContainerIdx)
	} else {
		obj, err = r.objectAt(entry.Offset, objNum)
	}
	if err != nil {
		return nil, err
	}
	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) objectAt(offset int64, wantNum int) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: object %d offset %d out of bounds", ErrObjectNotFound, wantNum, offset)
	}
	p := generic.NewParser(r.data[offset:])
	p.ResolveLength = r.resolveLength
	indirect, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("object %d at offset %d: %w", wantNum, offset, err)
	}
	if indirect.ObjectNumber != wantNum {
		return nil, fmt.Errorf("%w: offset %d holds object %d, want %d",
			ErrObjectNotFound, offset, indirect.ObjectNumber, wantNum)
	}
	if stream, ok := indirect.Object.(*generic.StreamObject); ok {
		if decoded, err := filters.Decode(stream); err == nil {
			stream.Decoded = decoded
		}
	}
	return indirect.Object, nil
}

// objectFromStream extracts the object at the given index of an object
// stream. The stream's prefix holds N (number, offset) integer pairs and
// /First is where the object payloads begin.
func (r *PdfFileReader) objectFromStream(containerNum, index int) (generic.PdfObject, error) {
	containerObj, err := r.GetObject(containerNum)
	if err != nil {
		return nil, err
	}
	container, ok := containerObj.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("%w: object %d is not an object stream", ErrInvalidXRef, containerNum)
	}

	data, err := filters.Decode(container)
	if err != nil {
		return nil, fmt.Errorf("decoding object stream %d: %w", containerNum, err)
	}

	n, _ := container.Dictionary.GetInt("N")
	first, _ := container.Dictionary.GetInt("First")
	if first <= 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("%w: object stream %d has bad /First", ErrInvalidXRef, containerNum)
	}

	type pair struct{ num, off int }
	var pairs []pair
	p := generic.NewParser(data[:first])
	for i := int64(0); i < n; i++ {
		numObj, err := p.ParseObject()
		if err != nil {
			break
		}
		offObj, err := p.ParseObject()
		if err != nil {
			break
		}
		num, okNum := numObj.(generic.IntegerObject)
		off, okOff := offObj.(generic.IntegerObject)
		if !okNum || !okOff {
			return nil, fmt.Errorf("%w: object stream %d index is not integer pairs", ErrInvalidXRef, containerNum)
		}
		pairs = append(pairs, pair{int(num), int(off)})
	}
	if index < 0 || index >= len(pairs) {
		return nil, fmt.Errorf("%w: index %d outside object stream %d", ErrInvalidXRef, index, containerNum)
	}

	start := int(first) + pairs[index].off
	if start < 0 || start > len(data) {
		return nil, fmt.Errorf("%w: object stream %d entry offset out of bounds", ErrInvalidXRef, containerNum)
	}
	p = generic.NewParser(data[start:])
	return p.ParseObject()
}

func (r *PdfFileReader) resolveLength(ref generic.Reference) (int64, bool) {
	obj, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return 0, false
	}
	if n, ok := obj.(generic.IntegerObject); ok {
		return int64(n), true
	}
	return 0, false
}

// Resolve follows obj through one level of indirection if it is a
// reference; any other object is returned unchanged.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		return r.GetObject(ref.ObjectNumber)
	}
	return obj, nil
}

// ResolveDict resolves obj and asserts the result is a dictionary. Stream
// objects satisfy the lookup through their stream dictionary.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *generic.DictionaryObject:
		return v, nil
	case *generic.StreamObject:
		return v.Dictionary, nil
	}
	return nil, fmt.Errorf("%w: expected dictionary", ErrObjectNotFound)
}

func (r *PdfFileReader) resolveDictRef(ref generic.Reference) (*generic.DictionaryObject, error) {
	obj, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: object %d is not a dictionary", ErrObjectNotFound, ref.ObjectNumber)
	}
	return dict, nil
}

// Data returns the raw file bytes backing this reader.
func (r *PdfFileReader) Data() []byte { return r.data }

// PageCount returns the number of leaf pages.
func (r *PdfFileReader) PageCount() int { return len(r.Pages) }

// GetPage returns the page at the zero-based index.
func (r *PdfFileReader) GetPage(index int) (Page, error) {
	if index < 0 || index >= len(r.Pages) {
		return Page{}, fmt.Errorf("page index %d out of range [0, %d)", index, len(r.Pages))
	}
	return r.Pages[index], nil
}

// MaxObjectNumber returns the highest object number known to the
// cross-reference view, considering the trailer /Size as a floor.
func (r *PdfFileReader) MaxObjectNumber() int {
	max := 0
	for num := range r.XRef {
		if num > max {
			max = num
		}
	}
	if r.Trailer != nil {
		if size, ok := r.Trailer.GetInt("Size"); ok && int(size)-1 > max {
			max = int(size) - 1
		}
	}
	return max
}

// SignatureFields returns every /FT /Sig field reachable from the
// interactive form, including fields nested one level under /Kids.
func (r *PdfFileReader) SignatureFields() []*generic.DictionaryObject {
	var out []*generic.DictionaryObject
	if r.AcroForm == nil {
		return out
	}
	for _, fieldRef := range r.AcroForm.GetArray("Fields") {
		field, err := r.ResolveDict(fieldRef)
		if err != nil {
			continue
		}
		if field.GetName("FT") == "Sig" {
			out = append(out, field)
		}
		for _, kidRef := range field.GetArray("Kids") {
			kid, err := r.ResolveDict(kidRef)
			if err != nil {
				continue
			}
			if kid.GetName("FT") == "Sig" {
				out = append(out, kid)
			}
		}
	}
	return out
}

// EmbeddedSignature is one filled signature field: the field, its value
// dictionary and the byte range and CMS payload extracted from it.
type EmbeddedSignature struct {
	Field      *generic.DictionaryObject
	Dictionary *generic.DictionaryObject
	ByteRange  [4]int64
	Contents   []byte

	reader *PdfFileReader
}

// EmbeddedSignatures returns the signatures present in the document, in
// field order. Unfilled signature fields are skipped.
func (r *PdfFileReader) EmbeddedSignatures() []*EmbeddedSignature {
	var sigs []*EmbeddedSignature
	for _, field := range r.SignatureFields() {
		sigDict, err := r.ResolveDict(field.Get("V"))
		if err != nil {
			continue
		}

		sig := &EmbeddedSignature{
			Field:      field,
			Dictionary: sigDict,
			reader:     r,
		}
		byteRange := sigDict.GetArray("ByteRange")
		if len(byteRange) != 4 {
			continue
		}
		for i, v := range byteRange {
			n, ok := generic.NumericValue(v)
			if !ok {
				n = -1
			}
			sig.ByteRange[i] = int64(n)
		}
		if contents := sigDict.GetString("Contents"); contents != nil {
			sig.Contents = contents.Value
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

// SignedBytes concatenates the two byte ranges the signature covers. The
// ranges are validated against the file size so malformed input cannot
// panic the caller.
func (e *EmbeddedSignature) SignedBytes() ([]byte, error) {
	data := e.reader.data
	for i := 0; i < 4; i++ {
		if e.ByteRange[i] < 0 {
			return nil, fmt.Errorf("%w: negative /ByteRange entry", ErrInvalidXRef)
		}
	}
	o1, l1, o2, l2 := e.ByteRange[0], e.ByteRange[1], e.ByteRange[2], e.ByteRange[3]
	if o1+l1 > int64(len(data)) || o2+l2 > int64(len(data)) || o1+l1 > o2 {
		return nil, fmt.Errorf("%w: /ByteRange outside file", ErrInvalidXRef)
	}
	out := make([]byte, 0, l1+l2)
	out = append(out, data[o1:o1+l1]...)
	out = append(out, data[o2:o2+l2]...)
	return out, nil
}

// CoversWholeFile reports whether the byte range spans the file except for
// the /Contents hex gap, i.e. nothing was appended after signing.
func (e *EmbeddedSignature) CoversWholeFile() bool {
	return e.ByteRange[0] == 0 && e.ByteRange[2]+e.ByteRange[3] == int64(len(e.reader.data))
}

// SigningTime returns the /M entry as raw text, empty when absent.
func (e *EmbeddedSignature) SigningTime() string {
	if m := e.Dictionary.GetString("M"); m != nil {
		return m.Text()
	}
	return ""
}

// Reason returns the /Reason entry, empty when absent.
func (e *EmbeddedSignature) Reason() string {
	if s := e.Dictionary.GetString("Reason"); s != nil {
		return s.Text()
	}
	return ""
}

// Location returns the /Location entry, empty when absent.
func (e *EmbeddedSignature) Location() string {
	if s := e.Dictionary.GetString("Location"); s != nil {
		return s.Text()
	}
	return ""
}

// FieldName returns the form field's /T entry, empty when absent.
func (e *EmbeddedSignature) FieldName() string {
	if s := e.Field.GetString("T"); s != nil {
		return s.Text()
	}
	return ""
}

// SubFilter returns the signature encoding name, e.g. adbe.pkcs7.detached.
func (e *EmbeddedSignature) SubFilter() string {
	return e.Dictionary.GetName("SubFilter")
}
