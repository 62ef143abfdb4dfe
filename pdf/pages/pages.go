// Package pages implements structural page-tree edits: rotation, cropping,
// deletion, insertion across documents, reordering, extraction and merge.
// Every operation validates its inputs and walks the affected ancestry
// before touching the tree, so a failed call leaves the document unchanged.
package pages

import (
	"errors"
	"fmt"

	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
)

var (
	// ErrInvalidRotation is returned for rotations that are not a
	// multiple of 90 degrees.
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")

	// ErrInvalidGeometry is returned for boxes without positive extent.
	ErrInvalidGeometry = errors.New("box must have positive width and height")

	// ErrPageIndexOutOfRange is returned when an index misses the page list.
	ErrPageIndexOutOfRange = errors.New("page index out of range")

	// ErrInvalidPermutation is returned when a reorder does not name every
	// page index exactly once.
	ErrInvalidPermutation = errors.New("order is not a permutation of the page indices")
)

// inheritable lists the page attributes a leaf may borrow from its
// ancestors. They are materialized onto the page dictionary before a page
// leaves its tree, so moved pages keep their appearance.
var inheritable = [...]string{"Resources", "MediaBox", "CropBox", "Rotate"}

// Rotate adds degrees to the page's effective rotation. Degrees must be a
// multiple of 90 (negative values turn counter-clockwise); the stored
// /Rotate is normalized into [0, 360).
func Rotate(doc *document.Document, pageIndex int, degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRotation, degrees)
	}
	page, err := pageAt(doc, pageIndex)
	if err != nil {
		return err
	}

	var current int
	if v, ok := inheritedValue(doc, page.Dict, "Rotate"); ok {
		if resolved, err := doc.Resolve(v); err == nil {
			if n, ok := generic.NumericValue(resolved); ok {
				current = int(n)
			}
		}
	}
	rotation := ((current+degrees)%360 + 360) % 360

	dict := page.Dict.Clone().(*generic.DictionaryObject)
	dict.Set("Rotate", generic.IntegerObject(int64(rotation)))
	doc.Update(page.Ref.ObjectNumber, dict)
	return nil
}

// Crop sets the page's /MediaBox and /CropBox to rect. The rectangle must
// have positive width and height.
func Crop(doc *document.Document, pageIndex int, rect generic.Rectangle) error {
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return fmt.Errorf("%w: got %g x %g", ErrInvalidGeometry, rect.Width(), rect.Height())
	}
	page, err := pageAt(doc, pageIndex)
	if err != nil {
		return err
	}

	dict := page.Dict.Clone().(*generic.DictionaryObject)
	dict.Set("MediaBox", rect.ToArray())
	dict.Set("CropBox", rect.ToArray())
	doc.Update(page.Ref.ObjectNumber, dict)
	return nil
}

// Delete removes the page at pageIndex from its parent's /Kids and
// decrements /Count on every ancestor up to the root.
func Delete(doc *document.Document, pageIndex int) error {
	page, err := pageAt(doc, pageIndex)
	if err != nil {
		return err
	}
	parentRef, ok := page.Dict.GetReference("Parent")
	if !ok {
		return fmt.Errorf("page %d has no /Parent", pageIndex)
	}
	parent, err := doc.ResolveDict(parentRef)
	if err != nil {
		return err
	}
	pos := kidPosition(parent.GetArray("Kids"), page.Ref)
	if pos < 0 {
		return fmt.Errorf("page %d is missing from its parent /Kids", pageIndex)
	}

	var patch treePatch
	if err := stageAncestorCounts(doc, parent, parentRef, -1, &patch); err != nil {
		return err
	}

	dict := parent.Clone().(*generic.DictionaryObject)
	kids := dict.GetArray("Kids")
	dict.Set("Kids", append(append(generic.ArrayObject{}, kids[:pos]...), kids[pos+1:]...))
	adjustCount(dict, -1)
	patch.stage(parentRef.ObjectNumber, dict)

	patch.apply(doc)
	return nil
}

// Insert deep-clones the page at srcPageIndex of src into doc at pageIndex,
// remapping every reference inside the subgraph to fresh destination
// numbers. The clone shares no object identity with the source document.
// pageIndex may equal the page count, which appends.
func Insert(doc *document.Document, pageIndex int, src *document.Document, srcPageIndex int) error {
	return insertImported(doc, pageIndex, document.NewImporter(doc, src), src, srcPageIndex)
}

// InsertBlank inserts an empty page of the given size at pageIndex.
func InsertBlank(doc *document.Document, pageIndex int, width, height float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: got %g x %g", ErrInvalidGeometry, width, height)
	}
	at, err := insertionAnchor(doc, pageIndex)
	if err != nil {
		return err
	}
	var patch treePatch
	if err := stageAncestorCounts(doc, at.parent, at.parentRef, 1, &patch); err != nil {
		return err
	}

	box := generic.Rectangle{URX: width, URY: height}
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("MediaBox", box.ToArray())
	page.Set("Resources", generic.NewDictionary())
	page.Set("Parent", at.parentRef)

	attachKid(doc, at, doc.Add(page), &patch)
	return nil
}

// Reorder rearranges the pages so that position i shows the page currently
// at newOrder[i]. The order must be a permutation of [0, pageCount). The
// tree is flattened onto the root /Pages node; intermediate nodes become
// orphans and are dropped on the next full rewrite.
func Reorder(doc *document.Document, newOrder []int) error {
	pages, err := doc.Pages()
	if err != nil {
		return err
	}
	if len(newOrder) != len(pages) {
		return fmt.Errorf("%w: got %d indices for %d pages", ErrInvalidPermutation, len(newOrder), len(pages))
	}
	seen := make([]bool, len(pages))
	for _, idx := range newOrder {
		if idx < 0 || idx >= len(pages) || seen[idx] {
			return fmt.Errorf("%w: index %d", ErrInvalidPermutation, idx)
		}
		seen[idx] = true
	}
	rootRef, root, err := pagesRoot(doc)
	if err != nil {
		return err
	}

	var patch treePatch
	kids := make(generic.ArrayObject, len(newOrder))
	for i, idx := range newOrder {
		page := pages[idx]
		kids[i] = page.Ref
		if ref, ok := page.Dict.GetReference("Parent"); ok && ref == rootRef {
			continue
		}
		// Reparenting to the root orphans the old intermediate node, so
		// any attributes inherited through it must move onto the page.
		dict := flattenInherited(doc, page)
		dict.Set("Parent", rootRef)
		patch.stage(page.Ref.ObjectNumber, dict)
	}

	dict := root.Clone().(*generic.DictionaryObject)
	dict.Set("Kids", kids)
	dict.Set("Count", generic.IntegerObject(int64(len(kids))))
	patch.stage(rootRef.ObjectNumber, dict)

	patch.apply(doc)
	return nil
}

// ExtractRange builds a new document containing pages from through to of
// doc, both inclusive, in order. The source document is left unmodified.
func ExtractRange(doc *document.Document, from, to int) (*document.Document, error) {
	count := doc.PageCount()
	if from < 0 || to >= count || from > to {
		return nil, fmt.Errorf("%w: [%d, %d] of %d pages", ErrPageIndexOutOfRange, from, to, count)
	}

	shell, err := writer.NewPdfFileWriter(doc.Version()).Bytes()
	if err != nil {
		return nil, err
	}
	out, err := document.Load(shell)
	if err != nil {
		return nil, err
	}

	// One importer for the whole range keeps resources shared between
	// source pages shared in the extract.
	im := document.NewImporter(out, doc)
	for i := from; i <= to; i++ {
		if err := insertImported(out, i-from, im, doc, i); err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", i, err)
		}
	}
	return out, nil
}

// Merge appends every page of src to dst, preserving order. Resources
// shared between source pages are imported once and stay shared.
func Merge(dst, src *document.Document) error {
	srcPages, err := src.Pages()
	if err != nil {
		return err
	}
	im := document.NewImporter(dst, src)
	for i := range srcPages {
		if err := insertImported(dst, dst.PageCount(), im, src, i); err != nil {
			return fmt.Errorf("merging page %d: %w", i, err)
		}
	}
	return nil
}

// pageAt returns the page at index or ErrPageIndexOutOfRange.
func pageAt(doc *document.Document, index int) (reader.Page, error) {
	pages, err := doc.Pages()
	if err != nil {
		return reader.Page{}, err
	}
	if index < 0 || index >= len(pages) {
		return reader.Page{}, fmt.Errorf("%w: %d of %d pages", ErrPageIndexOutOfRange, index, len(pages))
	}
	return pages[index], nil
}

// insertImported clones the source page through im and splices it into doc
// at pageIndex. The anchor and the ancestor walk are validated, and the
// source subgraph proven resolvable, before the destination is touched.
func insertImported(doc *document.Document, pageIndex int, im *document.Importer, src *document.Document, srcPageIndex int) error {
	srcPage, err := pageAt(src, srcPageIndex)
	if err != nil {
		return err
	}
	at, err := insertionAnchor(doc, pageIndex)
	if err != nil {
		return err
	}
	var patch treePatch
	if err := stageAncestorCounts(doc, at.parent, at.parentRef, 1, &patch); err != nil {
		return err
	}

	flattened := flattenInherited(src, srcPage)
	if err := validateImportable(src, flattened, make(map[int]bool)); err != nil {
		return fmt.Errorf("source page %d: %w", srcPageIndex, err)
	}
	imported, err := im.Import(flattened)
	if err != nil {
		return err
	}
	pageDict, ok := imported.(*generic.DictionaryObject)
	if !ok {
		return fmt.Errorf("imported page is %T, want dictionary", imported)
	}
	pageDict.Set("Parent", at.parentRef)

	attachKid(doc, at, doc.Add(pageDict), &patch)
	return nil
}

// anchor names the parent node and the /Kids slot where an inserted page
// must land.
type anchor struct {
	parentRef generic.Reference
	parent    *generic.DictionaryObject
	kidPos    int
}

// insertionAnchor locates the insertion point for index. Index may equal
// the page count, which anchors after the last page; an empty tree anchors
// on the root /Pages node.
func insertionAnchor(doc *document.Document, index int) (anchor, error) {
	pages, err := doc.Pages()
	if err != nil {
		return anchor{}, err
	}
	if index < 0 || index > len(pages) {
		return anchor{}, fmt.Errorf("%w: %d of %d pages", ErrPageIndexOutOfRange, index, len(pages))
	}

	if len(pages) == 0 {
		rootRef, root, err := pagesRoot(doc)
		if err != nil {
			return anchor{}, err
		}
		return anchor{parentRef: rootRef, parent: root}, nil
	}

	after := false
	if index == len(pages) {
		index--
		after = true
	}
	page := pages[index]
	parentRef, ok := page.Dict.GetReference("Parent")
	if !ok {
		return anchor{}, fmt.Errorf("page %d has no /Parent", index)
	}
	parent, err := doc.ResolveDict(parentRef)
	if err != nil {
		return anchor{}, err
	}
	pos := kidPosition(parent.GetArray("Kids"), page.Ref)
	if pos < 0 {
		return anchor{}, fmt.Errorf("page %d is missing from its parent /Kids", index)
	}
	if after {
		pos++
	}
	return anchor{parentRef: parentRef, parent: parent, kidPos: pos}, nil
}

// attachKid splices pageRef into the anchor's /Kids, bumps the parent's
// /Count and applies the staged ancestor adjustments.
func attachKid(doc *document.Document, at anchor, pageRef generic.Reference, patch *treePatch) {
	dict := at.parent.Clone().(*generic.DictionaryObject)
	kids := dict.GetArray("Kids")
	spliced := make(generic.ArrayObject, 0, len(kids)+1)
	spliced = append(spliced, kids[:at.kidPos]...)
	spliced = append(spliced, pageRef)
	spliced = append(spliced, kids[at.kidPos:]...)
	dict.Set("Kids", spliced)
	adjustCount(dict, 1)
	patch.stage(at.parentRef.ObjectNumber, dict)

	patch.apply(doc)
}

// pagesRoot resolves the catalog's /Pages node.
func pagesRoot(doc *document.Document) (generic.Reference, *generic.DictionaryObject, error) {
	catalog, err := doc.Catalog()
	if err != nil {
		return generic.Reference{}, nil, err
	}
	rootRef, ok := catalog.GetReference("Pages")
	if !ok {
		return generic.Reference{}, nil, fmt.Errorf("catalog has no /Pages reference")
	}
	root, err := doc.ResolveDict(rootRef)
	if err != nil {
		return generic.Reference{}, nil, err
	}
	return rootRef, root, nil
}

// kidPosition returns the index of ref inside kids, or -1.
func kidPosition(kids generic.ArrayObject, ref generic.Reference) int {
	for i, kid := range kids {
		if r, ok := kid.(generic.Reference); ok && r == ref {
			return i
		}
	}
	return -1
}

// adjustCount adds delta to the node's /Count.
func adjustCount(dict *generic.DictionaryObject, delta int64) {
	count, _ := dict.GetInt("Count")
	dict.Set("Count", generic.IntegerObject(count+delta))
}

// treePatch is a staged set of dictionary replacements. Operations stage
// every change while validating and apply the patch only once nothing can
// fail anymore.
type treePatch struct {
	updates []stagedUpdate
}

type stagedUpdate struct {
	objNum int
	dict   *generic.DictionaryObject
}

func (p *treePatch) stage(objNum int, dict *generic.DictionaryObject) {
	p.updates = append(p.updates, stagedUpdate{objNum: objNum, dict: dict})
}

func (p *treePatch) apply(doc *document.Document) {
	for _, u := range p.updates {
		doc.Update(u.objNum, u.dict)
	}
}

// stageAncestorCounts stages a /Count adjustment on every ancestor strictly
// above node. A /Parent loop is reported as a malformed tree.
func stageAncestorCounts(doc *document.Document, node *generic.DictionaryObject, nodeRef generic.Reference, delta int64, patch *treePatch) error {
	visited := map[int]bool{nodeRef.ObjectNumber: true}
	for {
		parentRef, ok := node.GetReference("Parent")
		if !ok {
			return nil
		}
		if visited[parentRef.ObjectNumber] {
			return fmt.Errorf("page tree /Parent chain loops at object %d", parentRef.ObjectNumber)
		}
		visited[parentRef.ObjectNumber] = true
		parent, err := doc.ResolveDict(parentRef)
		if err != nil {
			return err
		}
		dict := parent.Clone().(*generic.DictionaryObject)
		adjustCount(dict, delta)
		patch.stage(parentRef.ObjectNumber, dict)
		node = parent
	}
}

// inheritedValue reads a page attribute, walking /Parent links when the
// node itself has no entry.
func inheritedValue(doc *document.Document, dict *generic.DictionaryObject, key string) (generic.PdfObject, bool) {
	visited := make(map[int]bool)
	for {
		if dict.Has(key) {
			return dict.Get(key), true
		}
		parentRef, ok := dict.GetReference("Parent")
		if !ok || visited[parentRef.ObjectNumber] {
			return nil, false
		}
		visited[parentRef.ObjectNumber] = true
		parent, err := doc.ResolveDict(parentRef)
		if err != nil {
			return nil, false
		}
		dict = parent
	}
}

// flattenInherited clones a page dictionary with the inheritable attributes
// materialized from its ancestors, so the page survives outside its tree.
func flattenInherited(doc *document.Document, page reader.Page) *generic.DictionaryObject {
	dict := page.Dict.Clone().(*generic.DictionaryObject)
	for _, key := range inheritable {
		if dict.Has(key) {
			continue
		}
		if v, ok := inheritedValue(doc, page.Dict, key); ok {
			dict.Set(key, v)
		}
	}
	return dict
}

// validateImportable walks the source subgraph the way the importer will,
// proving every referenced object resolves before the destination document
// is touched. Dangling references are fine; the importer nulls them.
func validateImportable(src *document.Document, obj generic.PdfObject, visited map[int]bool) error {
	switch o := obj.(type) {
	case generic.Reference:
		if visited[o.ObjectNumber] {
			return nil
		}
		visited[o.ObjectNumber] = true
		target, err := src.GetObject(o.ObjectNumber)
		if err != nil {
			if errors.Is(err, reader.ErrObjectNotFound) {
				return nil
			}
			return err
		}
		return validateImportable(src, target, visited)
	case generic.ArrayObject:
		for _, item := range o {
			if err := validateImportable(src, item, visited); err != nil {
				return err
			}
		}
	case *generic.DictionaryObject:
		for _, key := range o.Keys() {
			if key == "Parent" || key == "P" {
				continue
			}
			if err := validateImportable(src, o.Get(key), visited); err != nil {
				return err
			}
		}
	case *generic.StreamObject:
		return validateImportable(src, o.Dictionary, visited)
	}
	return nil
}
