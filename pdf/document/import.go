package document

import (
	"errors"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
)

// Importer deep-clones object subgraphs from one document into another.
// Every referenced source object is allocated a fresh number in the
// destination on first sight and cloned exactly once, so shared source
// objects stay shared in the destination and reference cycles terminate.
// The clone shares no object identity with the source.
type Importer struct {
	dst     *Document
	src     *Document
	mapping map[int]generic.Reference
}

// NewImporter prepares an import from src into dst.
func NewImporter(dst, src *Document) *Importer {
	return &Importer{dst: dst, src: src, mapping: make(map[int]generic.Reference)}
}

// Import clones obj into the destination document and returns the clone.
// Parent back-references (/Parent, /P) are dropped rather than followed:
// following them would drag the whole source tree along, and the caller
// re-attaches the subgraph at its new position anyway. Dangling source
// references import as null.
func (im *Importer) Import(obj generic.PdfObject) (generic.PdfObject, error) {
	switch o := obj.(type) {
	case generic.Reference:
		if ref, ok := im.mapping[o.ObjectNumber]; ok {
			return ref, nil
		}
		target, err := im.src.GetObject(o.ObjectNumber)
		if err != nil {
			if errors.Is(err, reader.ErrObjectNotFound) {
				return generic.NullObject{}, nil
			}
			return nil, err
		}
		// Allocate before descending so cycles resolve to the reference.
		ref := im.dst.Add(generic.NullObject{})
		im.mapping[o.ObjectNumber] = ref
		imported, err := im.Import(target)
		if err != nil {
			return nil, err
		}
		im.dst.Update(ref.ObjectNumber, imported)
		return ref, nil
	case generic.ArrayObject:
		out := make(generic.ArrayObject, len(o))
		for i, item := range o {
			v, err := im.Import(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *generic.DictionaryObject:
		out := generic.NewDictionary()
		for _, key := range o.Keys() {
			if key == "Parent" || key == "P" {
				continue
			}
			v, err := im.Import(o.Get(key))
			if err != nil {
				return nil, err
			}
			out.Set(key, v)
		}
		return out, nil
	case *generic.StreamObject:
		dict, err := im.Import(o.Dictionary)
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(o.Data))
		copy(data, o.Data)
		return &generic.StreamObject{
			Dictionary: dict.(*generic.DictionaryObject),
			Data:       data,
		}, nil
	default:
		return obj.Clone(), nil
	}
}
