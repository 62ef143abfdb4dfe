package filters

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pdforge/pdforge/pdf/generic"
)

func flateStream(t *testing.T, payload []byte) *generic.StreamObject {
	t.Helper()
	dict := generic.NewDictionary()
	dict.Set("Filter", generic.NameObject("FlateDecode"))
	return generic.NewStream(dict, FlateEncode(payload))
}

func TestFlateRoundTrip(t *testing.T) {
	payload := []byte("q 0.5 0 0 0.5 0 0 cm BT /F1 12 Tf (hello) Tj ET Q")
	stream := flateStream(t, payload)

	got, err := Decode(stream)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestDecodeWithoutFilter(t *testing.T) {
	dict := generic.NewDictionary()
	stream := generic.NewStream(dict, []byte("raw bytes"))

	got, err := Decode(stream)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "raw bytes" {
		t.Errorf("got %q, want raw bytes", got)
	}
}

func TestFlatePNGUpPredictor(t *testing.T) {
	// Two rows of four bytes each, both predicted with the Up filter.
	// Row 1 has no previous row, so it decodes to the deltas themselves.
	predicted := []byte{
		2, 10, 20, 30, 40,
		2, 1, 1, 1, 1,
	}
	want := []byte{
		10, 20, 30, 40,
		11, 21, 31, 41,
	}

	parms := generic.NewDictionary()
	parms.Set("Predictor", generic.IntegerObject(12))
	parms.Set("Columns", generic.IntegerObject(4))

	dict := generic.NewDictionary()
	dict.Set("Filter", generic.NameObject("FlateDecode"))
	dict.Set("DecodeParms", parms)
	stream := generic.NewStream(dict, FlateEncode(predicted))

	got, err := Decode(stream)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlatePNGSubAndPaeth(t *testing.T) {
	tests := []struct {
		name      string
		predicted []byte
		want      []byte
	}{
		{
			name:      "sub",
			predicted: []byte{1, 5, 5, 5},
			want:      []byte{5, 10, 15},
		},
		{
			name:      "paeth first row",
			predicted: []byte{4, 7, 3, 3},
			want:      []byte{7, 10, 13},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parms := generic.NewDictionary()
			parms.Set("Predictor", generic.IntegerObject(15))
			parms.Set("Columns", generic.IntegerObject(3))

			got, err := undoPredictor(tt.predicted, parms)
			if err != nil {
				t.Fatalf("undoPredictor: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTIFFPredictor(t *testing.T) {
	parms := generic.NewDictionary()
	parms.Set("Predictor", generic.IntegerObject(2))
	parms.Set("Columns", generic.IntegerObject(4))

	got, err := undoPredictor([]byte{10, 5, 5, 5}, parms)
	if err != nil {
		t.Fatalf("undoPredictor: %v", err)
	}
	want := []byte{10, 15, 20, 25}
	if !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "48656c6c6f>", "Hello"},
		{"whitespace", "48 65 6c\n6c 6f>", "Hello"},
		{"odd digit pads zero", "48656c6c6f7>", "Hello\x70"},
		{"data after terminator ignored", "4869>4141", "Hi"},
	}
	f := asciiHexFilter{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Decode([]byte(tt.input), nil)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestASCIIHexRoundTrip(t *testing.T) {
	f := asciiHexFilter{}
	payload := []byte{0x00, 0x01, 0xfe, 0xff}

	encoded, err := f.Encode(payload, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := f.Decode(encoded, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %v, want %v", got, payload)
	}
}

func TestASCII85RoundTrip(t *testing.T) {
	f := ascii85Filter{}
	payload := []byte("Man is distinguished, not only by his reason")

	encoded, err := f.Encode(payload, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasSuffix(encoded, []byte("~>")) {
		t.Errorf("encoded data missing ~> terminator: %q", encoded)
	}
	got, err := f.Decode(encoded, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// 2 -> three literal bytes, 254 -> repeat next byte three times, 128 -> EOD.
	input := []byte{2, 'a', 'b', 'c', 254, 'x', 128}
	f := runLengthFilter{}

	got, err := f.Decode(input, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "abcxxx" {
		t.Errorf("got %q, want %q", got, "abcxxx")
	}
}

func TestRunLengthRoundTrip(t *testing.T) {
	f := runLengthFilter{}
	payload := []byte("aaaaaabcdefffffffffggh")

	encoded, err := f.Encode(payload, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := f.Decode(encoded, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestFilterChainArray(t *testing.T) {
	payload := []byte("chained payload")

	hexed, err := (asciiHexFilter{}).Encode(FlateEncode(payload), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dict := generic.NewDictionary()
	dict.Set("Filter", generic.ArrayObject{
		generic.NameObject("ASCIIHexDecode"),
		generic.NameObject("FlateDecode"),
	})
	stream := generic.NewStream(dict, hexed)

	got, err := Decode(stream)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestByNameAbbreviations(t *testing.T) {
	for _, name := range []string{"Fl", "AHx", "A85", "RL"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
}

func TestUnsupportedFilter(t *testing.T) {
	dict := generic.NewDictionary()
	dict.Set("Filter", generic.NameObject("JBIG2Decode"))
	stream := generic.NewStream(dict, []byte{0x00})

	_, err := Decode(stream)
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Errorf("got %v, want ErrUnsupportedFilter", err)
	}
}
