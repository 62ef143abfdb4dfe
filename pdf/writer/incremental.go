package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
)

// Incremental writer errors.
var (
	ErrNoPlaceholder      = errors.New("no signature placeholder registered")
	ErrSignatureTooLarge  = errors.New("signature exceeds reserved space")
	ErrNothingToIncrement = errors.New("no modified objects to write")
)

// ObjectKey identifies an object slot by number and generation.
type ObjectKey struct {
	Number     int
	Generation int
}

// IncrementalWriter appends modified and new objects to an existing file,
// leaving every original byte untouched. This is the only update mode that
// keeps previously embedded signatures valid.
type IncrementalWriter struct {
	reader  *reader.PdfFileReader
	objects map[ObjectKey]*generic.IndirectObject
	nextNum int
	fileID  generic.ArrayObject
}

// NewIncrementalWriter prepares an incremental update over r.
func NewIncrementalWriter(r *reader.PdfFileReader) *IncrementalWriter {
	return &IncrementalWriter{
		reader:  r,
		objects: make(map[ObjectKey]*generic.IndirectObject),
		nextNum: r.MaxObjectNumber() + 1,
		fileID:  nextFileID(r),
	}
}

// nextFileID keeps the first identifier half stable across revisions and
// regenerates the second half.
func nextFileID(r *reader.PdfFileReader) generic.ArrayObject {
	var first []byte
	if r.Trailer != nil {
		if id := r.Trailer.GetArray("ID"); len(id) >= 1 {
			if s, ok := id[0].(*generic.StringObject); ok {
				first = s.Value
			}
		}
	}
	if first == nil {
		first = NewFileID()
	}
	return generic.ArrayObject{
		generic.NewHexString(first),
		generic.NewHexString(NewFileID()),
	}
}

// Reader returns the underlying reader.
func (w *IncrementalWriter) Reader() *reader.PdfFileReader { return w.reader }

// NextObjectNumber returns the number the next AddObject call will use.
func (w *IncrementalWriter) NextObjectNumber() int { return w.nextNum }

// HasChanges reports whether any object was added or updated.
func (w *IncrementalWriter) HasChanges() bool { return len(w.objects) > 0 }

// AddObject registers a new object and returns its reference.
func (w *IncrementalWriter) AddObject(obj generic.PdfObject) generic.Reference {
	num := w.nextNum
	w.nextNum++
	w.objects[ObjectKey{Number: num}] = generic.NewIndirectObject(num, 0, obj)
	return generic.NewReference(num, 0)
}

// UpdateObject schedules a replacement for an existing object, keeping its
// generation number.
func (w *IncrementalWriter) UpdateObject(objNum int, obj generic.PdfObject) {
	gen := 0
	if entry := w.reader.XRef[objNum]; entry != nil {
		gen = entry.Generation
	}
	w.objects[ObjectKey{Number: objNum, Generation: gen}] = generic.NewIndirectObject(objNum, gen, obj)
}

// UpdatePage schedules a replacement dictionary for the page at index.
func (w *IncrementalWriter) UpdatePage(index int, dict *generic.DictionaryObject) error {
	page, err := w.reader.GetPage(index)
	if err != nil {
		return err
	}
	w.UpdateObject(page.Ref.ObjectNumber, dict)
	return nil
}

// GetObject returns the pending version of an object if one is scheduled,
// falling back to the original file.
func (w *IncrementalWriter) GetObject(objNum int) (generic.PdfObject, error) {
	for key, obj := range w.objects {
		if key.Number == objNum {
			return obj.Object, nil
		}
	}
	return w.reader.GetObject(objNum)
}

// Resolve follows obj through one level of indirection against the pending
// object set.
func (w *IncrementalWriter) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		return w.GetObject(ref.ObjectNumber)
	}
	return obj, nil
}

// Root returns the document catalog, preferring a pending update.
func (w *IncrementalWriter) Root() (*generic.DictionaryObject, generic.Reference, error) {
	rootRef := w.reader.RootRef
	obj, err := w.GetObject(rootRef.ObjectNumber)
	if err != nil {
		return nil, rootRef, err
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, rootRef, fmt.Errorf("catalog object %d is not a dictionary", rootRef.ObjectNumber)
	}
	return dict, rootRef, nil
}

// sortedKeys returns the pending object keys in ascending object order.
func (w *IncrementalWriter) sortedKeys() []ObjectKey {
	keys := make([]ObjectKey, 0, len(w.objects))
	for k := range w.objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Number != keys[j].Number {
			return keys[i].Number < keys[j].Number
		}
		return keys[i].Generation < keys[j].Generation
	})
	return keys
}

func (w *IncrementalWriter) buildTrailer() *generic.DictionaryObject {
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(w.nextNum))
	if len(w.reader.XRefOffsets) > 0 {
		trailer.Set("Prev", generic.IntegerObject(w.reader.XRefOffsets[0]))
	}
	trailer.Set("Root", w.reader.RootRef)
	if infoRef, ok := w.reader.Trailer.GetReference("Info"); ok {
		trailer.Set("Info", infoRef)
	}
	trailer.Set("ID", w.fileID)
	return trailer
}

// writeXRefSubsections emits the cross-reference table for the pending
// objects, grouping consecutive numbers into subsections.
func writeXRefSubsections(buf *bytes.Buffer, keys []ObjectKey, offsets map[ObjectKey]int64) {
	buf.WriteString("xref\n")
	i := 0
	for i < len(keys) {
		j := i
		for j+1 < len(keys) && keys[j+1].Number == keys[j].Number+1 {
			j++
		}
		fmt.Fprintf(buf, "%d %d\n", keys[i].Number, j-i+1)
		for _, key := range keys[i : j+1] {
			fmt.Fprintf(buf, "%010d %05d n \n", offsets[key], key.Generation)
		}
		i = j + 1
	}
}

// Write appends the pending objects and a new cross-reference section
// after the original bytes.
func (w *IncrementalWriter) Write(out io.Writer) error {
	if !w.HasChanges() {
		return ErrNothingToIncrement
	}

	var buf bytes.Buffer
	buf.Write(w.reader.Data())
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	keys := w.sortedKeys()
	offsets := make(map[ObjectKey]int64, len(keys))
	for _, key := range keys {
		offsets[key] = int64(buf.Len())
		if err := w.objects[key].Write(&buf); err != nil {
			return err
		}
	}

	xrefOffset := int64(buf.Len())
	writeXRefSubsections(&buf, keys, offsets)

	buf.WriteString("trailer\n")
	if err := w.buildTrailer().Write(&buf); err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

// Bytes returns the incremental update as a fresh buffer.
func (w *IncrementalWriter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SignaturePlaceholder describes a signature dictionary whose /Contents
// and /ByteRange must be position-tracked during serialization.
type SignaturePlaceholder struct {
	SigDict      *generic.DictionaryObject
	SigDictRef   generic.Reference
	ContentsSize int
}

// SignatureInfo is the serialized document with an unsigned placeholder:
// the final byte range, and where the hex contents live so the computed
// signature can be patched in.
type SignatureInfo struct {
	Data           []byte
	ByteRange      [4]int64
	ContentsOffset int64
	ContentsSize   int
}

// DataToSign concatenates the two ranges the digest must cover.
func (s *SignatureInfo) DataToSign() []byte {
	out := make([]byte, 0, s.ByteRange[1]+s.ByteRange[3])
	out = append(out, s.Data[s.ByteRange[0]:s.ByteRange[0]+s.ByteRange[1]]...)
	out = append(out, s.Data[s.ByteRange[2]:s.ByteRange[2]+s.ByteRange[3]]...)
	return out
}

// EmbedSignature writes the DER signature into the reserved /Contents gap,
// right-padded with zero digits. The reservation is a hard limit: a
// signature that does not fit is an error, never a truncation.
func (s *SignatureInfo) EmbedSignature(signature []byte) ([]byte, error) {
	hexSig := fmt.Sprintf("%X", signature)
	if len(hexSig) > s.ContentsSize*2 {
		return nil, fmt.Errorf("%w: %d hex digits reserved, signature needs %d",
			ErrSignatureTooLarge, s.ContentsSize*2, len(hexSig))
	}

	out := make([]byte, len(s.Data))
	copy(out, s.Data)
	padded := make([]byte, s.ContentsSize*2)
	copy(padded, hexSig)
	for i := len(hexSig); i < len(padded); i++ {
		padded[i] = '0'
	}
	copy(out[s.ContentsOffset:], padded)
	return out, nil
}

// WriteWithSignature serializes the update like Write, but emits the
// placeholder's signature dictionary field by field so the exact offsets
// of /ByteRange and /Contents are known, then patches the true byte range
// into the buffer. The returned SignatureInfo carries the full file bytes.
func (w *IncrementalWriter) WriteWithSignature(placeholder *SignaturePlaceholder) (*SignatureInfo, error) {
	if placeholder == nil || placeholder.SigDict == nil {
		return nil, ErrNoPlaceholder
	}

	var buf bytes.Buffer
	buf.Write(w.reader.Data())
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	keys := w.sortedKeys()
	offsets := make(map[ObjectKey]int64, len(keys))

	var byteRangeOffset, contentsOffset int64
	for _, key := range keys {
		offsets[key] = int64(buf.Len())
		obj := w.objects[key]
		if key.Number != placeholder.SigDictRef.ObjectNumber {
			if err := obj.Write(&buf); err != nil {
				return nil, err
			}
			continue
		}

		// The signature dictionary: mirror the normal dictionary layout
		// while recording where the two placeholders land.
		fmt.Fprintf(&buf, "%d %d obj\n<<", key.Number, key.Generation)
		for _, dictKey := range placeholder.SigDict.Keys() {
			buf.WriteByte('\n')
			generic.NameObject(dictKey).Write(&buf)
			buf.WriteByte(' ')
			switch dictKey {
			case "ByteRange":
				byteRangeOffset = int64(buf.Len())
				fmt.Fprintf(&buf, "[%010d %010d %010d %010d]", 0, 0, 0, 0)
			case "Contents":
				contentsOffset = int64(buf.Len())
				buf.WriteByte('<')
				for i := 0; i < placeholder.ContentsSize; i++ {
					buf.WriteString("00")
				}
				buf.WriteByte('>')
			default:
				if err := placeholder.SigDict.Get(dictKey).Write(&buf); err != nil {
					return nil, err
				}
			}
		}
		buf.WriteString("\n>>\nendobj\n")
	}
	if contentsOffset == 0 || byteRangeOffset == 0 {
		return nil, fmt.Errorf("%w: dictionary lacks /ByteRange or /Contents", ErrNoPlaceholder)
	}

	xrefOffset := int64(buf.Len())
	writeXRefSubsections(&buf, keys, offsets)
	buf.WriteString("trailer\n")
	if err := w.buildTrailer().Write(&buf); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	// The digest covers everything except the <...> hex run, delimiters
	// included.
	contentsStart := contentsOffset + 1
	contentsEnd := contentsStart + int64(placeholder.ContentsSize*2)
	byteRange := [4]int64{0, contentsOffset, contentsEnd + 1, int64(buf.Len()) - contentsEnd - 1}

	patched := fmt.Sprintf("[%010d %010d %010d %010d]",
		byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(buf.Bytes()[byteRangeOffset:], patched)

	return &SignatureInfo{
		Data:           buf.Bytes(),
		ByteRange:      byteRange,
		ContentsOffset: contentsStart,
		ContentsSize:   placeholder.ContentsSize,
	}, nil
}
