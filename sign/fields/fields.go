// Package fields creates and enumerates the signature form fields that
// anchor digital signatures in a document. Fields are added through the
// incremental writer so the original bytes stay untouched.
package fields

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
)

// Common errors
var (
	ErrNoSignatureField   = errors.New("no signature field found")
	ErrFieldAlreadySigned = errors.New("signature field is already signed")
	ErrInvalidFieldSpec   = errors.New("invalid signature field specification")
	ErrDuplicateFieldName = errors.New("signature field name already in use")
)

// AcroForm /SigFlags bits.
const (
	FlagSignaturesExist = 1
	FlagAppendOnly      = 2
)

// Annotation flags for the signature widget: Print | Locked.
const widgetFlags = 132

// Spec describes a signature field to create. A nil Box produces an
// invisible widget.
type Spec struct {
	Name string
	Page int
	Box  *generic.Rectangle
}

// Field is one signature field found in a document.
type Field struct {
	Name   string
	Dict   *generic.DictionaryObject
	Signed bool
}

// Add creates the signature field for spec and wires it into the AcroForm
// and the page's /Annots through w. The returned dictionary is the merged
// field/widget object the signing flow fills in.
func Add(w *writer.IncrementalWriter, spec Spec) (generic.Reference, *generic.DictionaryObject, error) {
	if spec.Name == "" {
		return generic.Reference{}, nil, fmt.Errorf("%w: field name is required", ErrInvalidFieldSpec)
	}
	for _, name := range FieldNames(w.Reader()) {
		if name == spec.Name {
			return generic.Reference{}, nil, fmt.Errorf("%w: %q", ErrDuplicateFieldName, spec.Name)
		}
	}

	page, err := w.Reader().GetPage(spec.Page)
	if err != nil {
		return generic.Reference{}, nil, err
	}

	field := generic.NewDictionary()
	field.Set("Type", generic.NameObject("Annot"))
	field.Set("Subtype", generic.NameObject("Widget"))
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString(spec.Name))
	if spec.Box != nil {
		field.Set("Rect", spec.Box.ToArray())
	} else {
		field.Set("Rect", generic.ArrayObject{
			generic.IntegerObject(0), generic.IntegerObject(0),
			generic.IntegerObject(0), generic.IntegerObject(0),
		})
	}
	field.Set("F", generic.IntegerObject(widgetFlags))
	field.Set("P", page.Ref)

	fieldRef := w.AddObject(field)

	if err := registerWithAcroForm(w, fieldRef); err != nil {
		return generic.Reference{}, nil, err
	}

	// Widget annotations hang off the page as well.
	pageObj, err := w.GetObject(page.Ref.ObjectNumber)
	if err != nil {
		return generic.Reference{}, nil, err
	}
	pageDict, ok := pageObj.(*generic.DictionaryObject)
	if !ok {
		return generic.Reference{}, nil, fmt.Errorf("page object %d is not a dictionary", page.Ref.ObjectNumber)
	}
	pageCopy := pageDict.Clone().(*generic.DictionaryObject)
	annots := append(generic.ArrayObject{}, pageCopy.GetArray("Annots")...)
	annots = append(annots, fieldRef)
	pageCopy.Set("Annots", annots)
	w.UpdateObject(page.Ref.ObjectNumber, pageCopy)

	return fieldRef, field, nil
}

// registerWithAcroForm appends fieldRef to the interactive form's /Fields,
// creating the AcroForm when the catalog has none. Both indirect and inline
// AcroForm dictionaries are handled.
func registerWithAcroForm(w *writer.IncrementalWriter, fieldRef generic.Reference) error {
	root, rootRef, err := w.Root()
	if err != nil {
		return err
	}

	switch acro := root.Get("AcroForm").(type) {
	case nil:
		form := generic.NewDictionary()
		form.Set("Fields", generic.ArrayObject{fieldRef})
		form.Set("SigFlags", generic.IntegerObject(FlagSignaturesExist|FlagAppendOnly))
		formRef := w.AddObject(form)

		rootCopy := root.Clone().(*generic.DictionaryObject)
		rootCopy.Set("AcroForm", formRef)
		w.UpdateObject(rootRef.ObjectNumber, rootCopy)

	case generic.Reference:
		obj, err := w.GetObject(acro.ObjectNumber)
		if err != nil {
			return fmt.Errorf("loading AcroForm: %w", err)
		}
		form, ok := obj.(*generic.DictionaryObject)
		if !ok {
			return fmt.Errorf("AcroForm object %d is not a dictionary", acro.ObjectNumber)
		}
		formCopy := form.Clone().(*generic.DictionaryObject)
		appendField(formCopy, fieldRef)
		w.UpdateObject(acro.ObjectNumber, formCopy)

	case *generic.DictionaryObject:
		// Inline AcroForm: the catalog itself has to be rewritten.
		rootCopy := root.Clone().(*generic.DictionaryObject)
		formCopy := acro.Clone().(*generic.DictionaryObject)
		appendField(formCopy, fieldRef)
		rootCopy.Set("AcroForm", formCopy)
		w.UpdateObject(rootRef.ObjectNumber, rootCopy)

	default:
		return fmt.Errorf("catalog /AcroForm has unexpected type %T", acro)
	}
	return nil
}

func appendField(form *generic.DictionaryObject, fieldRef generic.Reference) {
	fields := append(generic.ArrayObject{}, form.GetArray("Fields")...)
	fields = append(fields, fieldRef)
	form.Set("Fields", fields)
	EnsureSigFlags(form, FlagSignaturesExist|FlagAppendOnly)
}

// EnsureSigFlags ORs flags into the AcroForm's /SigFlags entry.
func EnsureSigFlags(acroForm *generic.DictionaryObject, flags int) {
	current, _ := acroForm.GetInt("SigFlags")
	acroForm.Set("SigFlags", generic.IntegerObject(int64(flags)|current))
}

// List returns the signature fields present in r, signed and unsigned.
func List(r *reader.PdfFileReader) []Field {
	var out []Field
	for _, dict := range r.SignatureFields() {
		f := Field{Dict: dict}
		if t := dict.GetString("T"); t != nil {
			f.Name = t.Text()
		}
		if v, err := r.ResolveDict(dict.Get("V")); err == nil && v != nil {
			f.Signed = true
		}
		out = append(out, f)
	}
	return out
}

// FieldNames returns the names of every signature field in r.
func FieldNames(r *reader.PdfFileReader) []string {
	var names []string
	for _, f := range List(r) {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return names
}

// FindEmpty returns the unsigned signature field called name.
func FindEmpty(r *reader.PdfFileReader, name string) (Field, error) {
	for _, f := range List(r) {
		if f.Name != name {
			continue
		}
		if f.Signed {
			return Field{}, fmt.Errorf("%w: %q", ErrFieldAlreadySigned, name)
		}
		return f, nil
	}
	return Field{}, fmt.Errorf("%w: %q", ErrNoSignatureField, name)
}

// NextAvailableName returns base plus the lowest positive suffix not yet
// taken, e.g. Signature1, Signature2.
func NextAvailableName(r *reader.PdfFileReader, base string) string {
	taken := make(map[string]bool)
	for _, name := range FieldNames(r) {
		taken[name] = true
	}
	for i := 1; ; i++ {
		candidate := base + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}
