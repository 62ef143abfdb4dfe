package document

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
)

// Save serializes the document as a complete file: the live object graph
// is walked from the catalog, reachable objects are renumbered
// consecutively and written with a fresh cross-reference table and
// trailer. Orphaned objects and superseded revisions are dropped; any
// previously embedded signature is invalidated, so Save is only for
// documents that are not yet signed.
func (d *Document) Save() ([]byte, error) {
	order, mapping, err := d.gatherReachable()
	if err != nil {
		return nil, err
	}

	objects := make([]*generic.IndirectObject, 0, len(order))
	for i, num := range order {
		obj, err := d.GetObject(num)
		if err != nil {
			return nil, err
		}
		objects = append(objects, generic.NewIndirectObject(i+1, 0, remapObject(obj, mapping)))
	}

	trailer := generic.NewDictionary()
	trailer.Set("Root", generic.NewReference(mapping[d.reader.RootRef.ObjectNumber], 0))
	if infoRef, ok := d.reader.Trailer.GetReference("Info"); ok {
		if num, ok := mapping[infoRef.ObjectNumber]; ok {
			trailer.Set("Info", generic.NewReference(num, 0))
		}
	}
	id := writer.NewFileID()
	trailer.Set("ID", generic.ArrayObject{generic.NewHexString(id), generic.NewHexString(id)})

	var buf bytes.Buffer
	if err := writer.WriteDocument(&buf, d.reader.Version, objects, trailer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gatherReachable walks the graph breadth-first from the catalog (and the
// Info dictionary) and assigns consecutive new numbers in discovery order.
// Dangling references are skipped; they serialize as null.
func (d *Document) gatherReachable() ([]int, map[int]int, error) {
	var order []int
	mapping := make(map[int]int)
	visited := make(map[int]bool)

	queue := []int{d.reader.RootRef.ObjectNumber}
	if infoRef, ok := d.reader.Trailer.GetReference("Info"); ok {
		queue = append(queue, infoRef.ObjectNumber)
	}

	for len(queue) > 0 {
		num := queue[0]
		queue = queue[1:]
		if visited[num] {
			continue
		}
		visited[num] = true

		obj, err := d.GetObject(num)
		if err != nil {
			if errors.Is(err, reader.ErrObjectNotFound) {
				continue
			}
			return nil, nil, err
		}
		mapping[num] = len(order) + 1
		order = append(order, num)
		scanReferences(obj, func(ref generic.Reference) {
			queue = append(queue, ref.ObjectNumber)
		})
	}

	if _, ok := mapping[d.reader.RootRef.ObjectNumber]; !ok {
		return nil, nil, fmt.Errorf("catalog object %d is unresolvable", d.reader.RootRef.ObjectNumber)
	}
	return order, mapping, nil
}

// scanReferences visits every reference inside obj in serialization order.
// Stream /Length entries are not followed: length is recomputed when the
// stream is written, so an indirect length would only survive as an orphan.
func scanReferences(obj generic.PdfObject, visit func(generic.Reference)) {
	switch o := obj.(type) {
	case generic.Reference:
		visit(o)
	case generic.ArrayObject:
		for _, item := range o {
			scanReferences(item, visit)
		}
	case *generic.DictionaryObject:
		for _, key := range o.Keys() {
			scanReferences(o.Get(key), visit)
		}
	case *generic.StreamObject:
		for _, key := range o.Dictionary.Keys() {
			if key == "Length" {
				continue
			}
			scanReferences(o.Dictionary.Get(key), visit)
		}
	}
}

// remapObject deep-copies obj, rewriting every reference through mapping.
// References to objects outside the mapping become null.
func remapObject(obj generic.PdfObject, mapping map[int]int) generic.PdfObject {
	switch o := obj.(type) {
	case generic.Reference:
		if num, ok := mapping[o.ObjectNumber]; ok {
			return generic.NewReference(num, 0)
		}
		return generic.NullObject{}
	case generic.ArrayObject:
		out := make(generic.ArrayObject, len(o))
		for i, item := range o {
			out[i] = remapObject(item, mapping)
		}
		return out
	case *generic.DictionaryObject:
		out := generic.NewDictionary()
		for _, key := range o.Keys() {
			out.Set(key, remapObject(o.Get(key), mapping))
		}
		return out
	case *generic.StreamObject:
		data := make([]byte, len(o.Data))
		copy(data, o.Data)
		return &generic.StreamObject{
			Dictionary: remapObject(o.Dictionary, mapping).(*generic.DictionaryObject),
			Data:       data,
		}
	default:
		return obj.Clone()
	}
}
