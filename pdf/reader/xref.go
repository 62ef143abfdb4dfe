package reader

import (
	"fmt"
	"strconv"

	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
)

// XRefEntry is one row of the merged cross-reference view. Direct objects
// carry a byte offset; objects living inside an object stream carry the
// container's object number and their index within it.
type XRefEntry struct {
	Offset       int64
	Generation   int
	Free         bool
	ContainerNum int
	ContainerIdx int
}

// parseXRefSection parses the cross-reference section at offset, which is
// either a traditional "xref" table or a cross-reference stream, and
// returns its trailer dictionary. Entries merge into r.XRef with earlier
// (newer) sections taking precedence.
func (r *PdfFileReader) parseXRefSection(offset int64) (*generic.DictionaryObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: section offset %d out of bounds", ErrInvalidXRef, offset)
	}
	pos := int(offset)
	for pos < len(r.data) && generic.IsWhitespace(r.data[pos]) {
		pos++
	}
	if pos+4 <= len(r.data) && string(r.data[pos:pos+4]) == "xref" {
		return r.parseXRefTable(pos + 4)
	}
	return r.parseXRefStream(pos)
}

// parseXRefTable reads subsections of 20-byte entries until the trailer
// keyword. Entries written without a carriage return are tolerated by
// splitting on whitespace instead of assuming fixed positions.
func (r *PdfFileReader) parseXRefTable(pos int) (*generic.DictionaryObject, error) {
	for {
		pos = skipWS(r.data, pos)
		if pos >= len(r.data) {
			return nil, fmt.Errorf("%w: table ends before trailer", ErrInvalidXRef)
		}
		if hasPrefixAt(r.data, pos, "trailer") {
			pos += len("trailer")
			break
		}

		startObj, n, next, err := readTwoInts(r.data, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection header: %v", ErrInvalidXRef, err)
		}
		pos = next

		for i := 0; i < n; i++ {
			pos = skipWS(r.data, pos)
			off, gen, next, err := readTwoInts(r.data, pos)
			if err != nil {
				return nil, fmt.Errorf("%w: bad entry for object %d: %v", ErrInvalidXRef, startObj+i, err)
			}
			pos = skipWS(r.data, next)
			if pos >= len(r.data) {
				return nil, fmt.Errorf("%w: truncated entry", ErrInvalidXRef)
			}
			flag := r.data[pos]
			pos++
			if flag != 'n' && flag != 'f' {
				return nil, fmt.Errorf("%w: entry flag %q", ErrInvalidXRef, flag)
			}

			objNum := startObj + i
			if _, exists := r.XRef[objNum]; exists {
				continue
			}
			r.XRef[objNum] = &XRefEntry{
				Offset:     int64(off),
				Generation: gen,
				Free:       flag == 'f',
			}
		}
	}

	pos = skipWS(r.data, pos)
	p := generic.NewParser(r.data[pos:])
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: trailer dictionary: %v", ErrInvalidXRef, err)
	}
	trailer, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrInvalidXRef)
	}
	return trailer, nil
}

// parseXRefStream reads a cross-reference stream: binary rows of /W-sized
// fields covering the object ranges named by /Index (default [0 /Size]).
// The stream dictionary doubles as the trailer.
func (r *PdfFileReader) parseXRefStream(pos int) (*generic.DictionaryObject, error) {
	p := generic.NewParser(r.data[pos:])
	p.ResolveLength = r.resolveLength
	indirect, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: no table or stream at offset: %v", ErrInvalidXRef, err)
	}
	stream, ok := indirect.Object.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("%w: expected cross-reference stream", ErrInvalidXRef)
	}
	dict := stream.Dictionary
	if dict.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: stream is not /Type /XRef", ErrInvalidXRef)
	}

	data, err := filters.Decode(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding stream: %v", ErrInvalidXRef, err)
	}

	wArray := dict.GetArray("W")
	if len(wArray) != 3 {
		return nil, fmt.Errorf("%w: /W must have three entries", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wArray {
		n, ok := v.(generic.IntegerObject)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: bad /W entry", ErrInvalidXRef)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: zero-width rows", ErrInvalidXRef)
	}

	var index []int
	if indexArray := dict.GetArray("Index"); indexArray != nil {
		for _, v := range indexArray {
			n, ok := v.(generic.IntegerObject)
			if !ok {
				return nil, fmt.Errorf("%w: bad /Index entry", ErrInvalidXRef)
			}
			index = append(index, int(n))
		}
	} else {
		size, ok := dict.GetInt("Size")
		if !ok {
			return nil, fmt.Errorf("%w: stream has neither /Index nor /Size", ErrInvalidXRef)
		}
		index = []int{0, int(size)}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: odd /Index length", ErrInvalidXRef)
	}

	rowAt := 0
	for i := 0; i < len(index); i += 2 {
		startObj, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if (rowAt+1)*rowLen > len(data) {
				return dict, nil // truncated tail, keep what parsed
			}
			row := data[rowAt*rowLen : (rowAt+1)*rowLen]
			rowAt++

			objNum := startObj + j
			if _, exists := r.XRef[objNum]; exists {
				continue
			}
			r.XRef[objNum] = decodeXRefStreamRow(row, w)
		}
	}
	return dict, nil
}

func decodeXRefStreamRow(row []byte, w [3]int) *XRefEntry {
	field := func(start, width int) int64 {
		var v int64
		for i := 0; i < width; i++ {
			v = v<<8 | int64(row[start+i])
		}
		return v
	}

	typ := int64(1) // rows without a type field default to in-use
	if w[0] > 0 {
		typ = field(0, w[0])
	}
	f2 := field(w[0], w[1])
	f3 := field(w[0]+w[1], w[2])

	switch typ {
	case 0:
		return &XRefEntry{Offset: f2, Generation: int(f3), Free: true}
	case 1:
		return &XRefEntry{Offset: f2, Generation: int(f3)}
	case 2:
		return &XRefEntry{ContainerNum: int(f2), ContainerIdx: int(f3)}
	default:
		return &XRefEntry{Free: true}
	}
}

func skipWS(data []byte, pos int) int {
	for pos < len(data) && generic.IsWhitespace(data[pos]) {
		pos++
	}
	return pos
}

func hasPrefixAt(data []byte, pos int, s string) bool {
	return pos+len(s) <= len(data) && string(data[pos:pos+len(s)]) == s
}

// readTwoInts reads two whitespace-separated decimal integers starting at
// pos and returns them with the position after the second.
func readTwoInts(data []byte, pos int) (int, int, int, error) {
	first, pos, err := readInt(data, pos)
	if err != nil {
		return 0, 0, pos, err
	}
	pos = skipWS(data, pos)
	second, pos, err := readInt(data, pos)
	if err != nil {
		return 0, 0, pos, err
	}
	return first, second, pos, nil
}

func readInt(data []byte, pos int) (int, int, error) {
	start := pos
	for pos < len(data) && data[pos] >= '0' && data[pos] <= '9' {
		pos++
	}
	if start == pos {
		return 0, pos, fmt.Errorf("expected digits at offset %d", start)
	}
	n, err := strconv.Atoi(string(data[start:pos]))
	if err != nil {
		return 0, pos, err
	}
	return n, pos, nil
}
