package reader

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pdforge/pdforge/pdf/generic"
)

// rebuildByScan discards the cross-reference state and reconstructs it from
// the raw bytes: every "N G obj" marker becomes an entry, with later
// occurrences of an object number shadowing earlier ones the same way
// incremental updates do. The trailer is taken from the last trailer
// keyword, from a cross-reference stream dictionary, or synthesized around
// the document catalog as a last resort.
func (r *PdfFileReader) rebuildByScan() error {
	r.XRef = make(map[int]*XRefEntry)
	r.objects = make(map[int]generic.PdfObject)
	r.Trailer = nil
	r.Trailers = nil
	r.XRefOffsets = nil
	r.Root = nil
	r.Info = nil
	r.Pages = nil
	r.AcroForm = nil

	if err := r.scanObjectMarkers(); err != nil {
		return err
	}

	trailer := r.lastTrailerDict()
	if trailer == nil {
		trailer = r.trailerFromXRefStream()
	}
	if trailer == nil {
		trailer = r.synthesizeTrailer()
	}
	if trailer == nil || !trailer.Has("Root") {
		return fmt.Errorf("%w: no trailer or catalog found by scan", ErrMalformedStructure)
	}
	if !trailer.Has("Size") {
		trailer.Set("Size", generic.IntegerObject(r.MaxObjectNumber()+1))
	}

	r.Trailer = trailer
	r.Trailers = []*generic.DictionaryObject{trailer}
	return nil
}

// scanObjectMarkers walks the file for "obj" keywords and records the
// offset of the object number that precedes each one.
func (r *PdfFileReader) scanObjectMarkers() error {
	marker := []byte("obj")
	search := 0
	found := 0

	for {
		idx := bytes.Index(r.data[search:], marker)
		if idx < 0 {
			break
		}
		pos := search + idx
		search = pos + len(marker)

		// A real keyword sits between whitespace and a delimiter; anything
		// else is a longer token (endobj) or stream data.
		if pos == 0 || !generic.IsWhitespace(r.data[pos-1]) {
			continue
		}
		after := pos + len(marker)
		if after < len(r.data) && generic.IsRegular(r.data[after]) {
			continue
		}

		objNum, gen, offset, ok := parseMarkerPrefix(r.data, pos)
		if !ok {
			continue
		}
		r.XRef[objNum] = &XRefEntry{Offset: offset, Generation: gen}
		found++
	}

	if found == 0 {
		return fmt.Errorf("%w: no object markers found by scan", ErrMalformedStructure)
	}
	return nil
}

// parseMarkerPrefix walks backwards from the whitespace before an obj
// keyword, expecting "<objnum> <gen>", and returns the offset of the
// object number token.
func parseMarkerPrefix(data []byte, pos int) (objNum, gen int, offset int64, ok bool) {
	i := pos
	for i > 0 && generic.IsWhitespace(data[i-1]) {
		i--
	}
	genEnd := i
	for i > 0 && data[i-1] >= '0' && data[i-1] <= '9' {
		i--
	}
	genStart := i
	if genStart == genEnd {
		return 0, 0, 0, false
	}

	for i > 0 && generic.IsWhitespace(data[i-1]) {
		i--
	}
	numEnd := i
	for i > 0 && data[i-1] >= '0' && data[i-1] <= '9' {
		i--
	}
	numStart := i
	if numStart == numEnd || numEnd == genStart {
		return 0, 0, 0, false
	}
	// The object number must start a token, not be the tail of one.
	if numStart > 0 && generic.IsRegular(data[numStart-1]) {
		return 0, 0, 0, false
	}

	objNum = atoiBytes(data[numStart:numEnd])
	gen = atoiBytes(data[genStart:genEnd])
	return objNum, gen, int64(numStart), true
}

func atoiBytes(b []byte) int {
	n := 0
	for _, c := range b {
		n = n*10 + int(c-'0')
	}
	return n
}

// lastTrailerDict parses the dictionary after the final trailer keyword.
func (r *PdfFileReader) lastTrailerDict() *generic.DictionaryObject {
	idx := bytes.LastIndex(r.data, []byte("trailer"))
	if idx < 0 {
		return nil
	}
	p := generic.NewParser(r.data[idx+len("trailer"):])
	obj, err := p.ParseObject()
	if err != nil {
		return nil
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok || !dict.Has("Root") {
		return nil
	}
	return dict
}

// trailerFromXRefStream finds the newest /Type /XRef stream among the
// scanned objects and lifts the trailer fields out of its dictionary.
func (r *PdfFileReader) trailerFromXRefStream() *generic.DictionaryObject {
	for _, objNum := range r.scannedObjectsNewestFirst() {
		obj, err := r.GetObject(objNum)
		if err != nil {
			continue
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok || stream.Dictionary.GetName("Type") != "XRef" {
			continue
		}
		trailer := generic.NewDictionary()
		for _, key := range []string{"Size", "Root", "Info", "ID", "Encrypt"} {
			if v := stream.Dictionary.Get(key); v != nil {
				trailer.Set(key, v)
			}
		}
		if trailer.Has("Root") {
			return trailer
		}
	}
	return nil
}

// synthesizeTrailer builds a minimal trailer around the newest /Type
// /Catalog object found in the scan.
func (r *PdfFileReader) synthesizeTrailer() *generic.DictionaryObject {
	for _, objNum := range r.scannedObjectsNewestFirst() {
		obj, err := r.GetObject(objNum)
		if err != nil {
			continue
		}
		dict, ok := obj.(*generic.DictionaryObject)
		if !ok || dict.GetName("Type") != "Catalog" {
			continue
		}
		entry := r.XRef[objNum]
		trailer := generic.NewDictionary()
		trailer.Set("Size", generic.IntegerObject(r.MaxObjectNumber()+1))
		trailer.Set("Root", generic.NewReference(objNum, entry.Generation))
		return trailer
	}
	return nil
}

// scannedObjectsNewestFirst orders the rebuilt table by descending file
// offset, so later revisions are considered before the objects they shadow.
func (r *PdfFileReader) scannedObjectsNewestFirst() []int {
	nums := make([]int, 0, len(r.XRef))
	for num, entry := range r.XRef {
		if !entry.Free && entry.ContainerNum == 0 {
			nums = append(nums, num)
		}
	}
	sort.Slice(nums, func(i, j int) bool {
		return r.XRef[nums[i]].Offset > r.XRef[nums[j]].Offset
	})
	return nums
}
