package generic

import (
	"bytes"
	"strings"
	"testing"
)

func writeToString(t *testing.T, obj PdfObject) string {
	t.Helper()
	var buf bytes.Buffer
	if err := obj.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return buf.String()
}

func TestScalarSerialization(t *testing.T) {
	tests := []struct {
		name string
		obj  PdfObject
		want string
	}{
		{"null", NullObject{}, "null"},
		{"true", BooleanObject(true), "true"},
		{"false", BooleanObject(false), "false"},
		{"integer", IntegerObject(42), "42"},
		{"negative integer", IntegerObject(-17), "-17"},
		{"real", RealObject(3.5), "3.5"},
		{"real without trailing zeros", RealObject(100), "100"},
		{"name", NameObject("Type"), "/Type"},
		{"name with space", NameObject("A B"), "/A#20B"},
		{"name with hash", NameObject("A#B"), "/A#23B"},
		{"name with paren", NameObject("A(B)"), "/A#28B#29"},
		{"reference", NewReference(12, 0), "12 0 R"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := writeToString(t, tt.obj)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringSerialization(t *testing.T) {
	tests := []struct {
		name string
		obj  *StringObject
		want string
	}{
		{"plain", NewLiteralString("hello"), "(hello)"},
		{"parens", NewLiteralString("a(b)c"), `(a\(b\)c)`},
		{"backslash", NewLiteralString(`a\b`), `(a\\b)`},
		{"newline", NewLiteralString("a\nb"), `(a\nb)`},
		{"hex", NewHexString([]byte{0xDE, 0xAD}), "<DEAD>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := writeToString(t, tt.obj)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextString(t *testing.T) {
	ascii := NewTextString("Draft")
	if ascii.Text() != "Draft" {
		t.Errorf("ascii round trip: got %q", ascii.Text())
	}

	wide := NewTextString("Grüße 日本")
	if wide.Value[0] != 0xFE || wide.Value[1] != 0xFF {
		t.Fatalf("expected UTF-16BE BOM, got % X", wide.Value[:2])
	}
	if wide.Text() != "Grüße 日本" {
		t.Errorf("wide round trip: got %q", wide.Text())
	}
}

func TestArraySerialization(t *testing.T) {
	arr := NewArray(IntegerObject(1), NameObject("Two"), BooleanObject(true))
	got := writeToString(t, arr)
	want := "[1 /Two true]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDictionaryOrderAndAccessors(t *testing.T) {
	d := NewDictionary()
	d.Set("Type", NameObject("Page"))
	d.Set("Count", IntegerObject(3))
	d.Set("MediaBox", NewArray(IntegerObject(0), IntegerObject(0), IntegerObject(612), IntegerObject(792)))

	if got := d.GetName("Type"); got != "Page" {
		t.Errorf("GetName: got %q, want %q", got, "Page")
	}
	if n, ok := d.GetInt("Count"); !ok || n != 3 {
		t.Errorf("GetInt: got %d, %v", n, ok)
	}
	if arr := d.GetArray("MediaBox"); len(arr) != 4 {
		t.Errorf("GetArray: got %d elements", len(arr))
	}

	out := writeToString(t, d)
	ti := strings.Index(out, "/Type")
	ci := strings.Index(out, "/Count")
	mi := strings.Index(out, "/MediaBox")
	if !(ti < ci && ci < mi) {
		t.Errorf("keys not serialized in insertion order: %q", out)
	}

	d.Delete("Count")
	if d.Has("Count") {
		t.Error("Count still present after Delete")
	}
	if d.Len() != 2 {
		t.Errorf("Len: got %d, want 2", d.Len())
	}
}

func TestDictionaryCloneIsDeep(t *testing.T) {
	d := NewDictionary()
	inner := NewDictionary()
	inner.Set("Key", IntegerObject(1))
	d.Set("Inner", inner)

	c := d.Clone().(*DictionaryObject)
	c.GetDict("Inner").Set("Key", IntegerObject(2))

	if n, _ := inner.GetInt("Key"); n != 1 {
		t.Errorf("clone mutation leaked into original: got %d", n)
	}
}

func TestStreamSerialization(t *testing.T) {
	dict := NewDictionary()
	s := NewStream(dict, []byte("BT ET"))
	got := writeToString(t, s)

	if !strings.Contains(got, "/Length 5") {
		t.Errorf("missing Length entry: %q", got)
	}
	if !strings.Contains(got, "stream\nBT ET\nendstream") {
		t.Errorf("bad stream framing: %q", got)
	}
}

func TestIndirectObjectSerialization(t *testing.T) {
	obj := NewIndirectObject(7, 0, IntegerObject(99))
	got := writeToString(t, obj)
	want := "7 0 obj\n99\nendobj\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if obj.Reference() != (Reference{ObjectNumber: 7}) {
		t.Errorf("Reference: got %v", obj.Reference())
	}
}

func TestRectangle(t *testing.T) {
	r, err := NewRectangle(NewArray(IntegerObject(0), IntegerObject(0), RealObject(612), RealObject(792)))
	if err != nil {
		t.Fatalf("NewRectangle failed: %v", err)
	}
	if r.Width() != 612 || r.Height() != 792 {
		t.Errorf("got %gx%g, want 612x792", r.Width(), r.Height())
	}

	if _, err := NewRectangle(NewArray(IntegerObject(0))); err == nil {
		t.Error("expected error for short array")
	}
	if _, err := NewRectangle(NewArray(NameObject("a"), IntegerObject(0), IntegerObject(0), IntegerObject(0))); err == nil {
		t.Error("expected error for non-numeric element")
	}
}
