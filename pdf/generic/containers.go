package generic

import (
	"io"
)

// ArrayObject is a PDF array.
type ArrayObject []PdfObject

// NewArray creates an array from items.
func NewArray(items ...PdfObject) ArrayObject {
	return ArrayObject(items)
}

func (a ArrayObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if item == nil {
			item = NullObject{}
		}
		if err := item.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

func (a ArrayObject) Clone() PdfObject {
	out := make(ArrayObject, len(a))
	for i, item := range a {
		if item != nil {
			out[i] = item.Clone()
		}
	}
	return out
}

// Get returns the element at index, or nil when out of range.
func (a ArrayObject) Get(index int) PdfObject {
	if index < 0 || index >= len(a) {
		return nil
	}
	return a[index]
}

// DictionaryObject is a PDF dictionary. Keys are stored without the leading
// slash and iteration follows insertion order, so serialization is stable.
type DictionaryObject struct {
	entries map[string]PdfObject
	order   []string
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *DictionaryObject {
	return &DictionaryObject{entries: make(map[string]PdfObject)}
}

func (d *DictionaryObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.order {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := NameObject(key).Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		val := d.entries[key]
		if val == nil {
			val = NullObject{}
		}
		if err := val.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n>>")
	return err
}

func (d *DictionaryObject) Clone() PdfObject {
	out := NewDictionary()
	for _, key := range d.order {
		if v := d.entries[key]; v != nil {
			out.Set(key, v.Clone())
		}
	}
	return out
}

// Set stores value under key, appending the key to the iteration order on
// first insertion.
func (d *DictionaryObject) Set(key string, value PdfObject) {
	if _, ok := d.entries[key]; !ok {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the value for key, or nil.
func (d *DictionaryObject) Get(key string) PdfObject {
	return d.entries[key]
}

// Has reports whether key is present.
func (d *DictionaryObject) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Delete removes key and its iteration-order slot.
func (d *DictionaryObject) Delete(key string) {
	if _, ok := d.entries[key]; !ok {
		return
	}
	delete(d.entries, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not mutate it.
func (d *DictionaryObject) Keys() []string {
	return d.order
}

// Len returns the number of entries.
func (d *DictionaryObject) Len() int {
	return len(d.entries)
}

// GetName returns the value for key as a name, or "".
func (d *DictionaryObject) GetName(key string) string {
	if n, ok := d.entries[key].(NameObject); ok {
		return string(n)
	}
	return ""
}

// GetInt returns the value for key as an integer.
func (d *DictionaryObject) GetInt(key string) (int64, bool) {
	if i, ok := d.entries[key].(IntegerObject); ok {
		return int64(i), true
	}
	return 0, false
}

// GetNumber returns the value for key as a float, accepting integers and
// reals.
func (d *DictionaryObject) GetNumber(key string) (float64, bool) {
	return NumericValue(d.entries[key])
}

// GetBool returns the value for key as a boolean.
func (d *DictionaryObject) GetBool(key string) (bool, bool) {
	if b, ok := d.entries[key].(BooleanObject); ok {
		return bool(b), true
	}
	return false, false
}

// GetArray returns the value for key as an array, or nil.
func (d *DictionaryObject) GetArray(key string) ArrayObject {
	if a, ok := d.entries[key].(ArrayObject); ok {
		return a
	}
	return nil
}

// GetDict returns the value for key as a dictionary, or nil.
func (d *DictionaryObject) GetDict(key string) *DictionaryObject {
	if sub, ok := d.entries[key].(*DictionaryObject); ok {
		return sub
	}
	return nil
}

// GetString returns the value for key as a string object, or nil.
func (d *DictionaryObject) GetString(key string) *StringObject {
	if s, ok := d.entries[key].(*StringObject); ok {
		return s
	}
	return nil
}

// GetReference returns the value for key as a reference.
func (d *DictionaryObject) GetReference(key string) (Reference, bool) {
	if r, ok := d.entries[key].(Reference); ok {
		return r, true
	}
	return Reference{}, false
}
