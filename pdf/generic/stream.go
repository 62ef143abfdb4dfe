package generic

import (
	"fmt"
	"io"
)

// StreamObject is a PDF stream: a dictionary plus raw bytes. Data holds the
// bytes as they appear in the file (possibly filtered); Decoded, when set,
// holds the unfiltered bytes.
type StreamObject struct {
	Dictionary *DictionaryObject
	Data       []byte
	Decoded    []byte
}

// NewStream creates a stream around data. A nil dict is replaced with an
// empty one. Data is stored as both the raw and decoded form; callers that
// encode afterwards overwrite Data and set the filter entries themselves.
func NewStream(dict *DictionaryObject, data []byte) *StreamObject {
	if dict == nil {
		dict = NewDictionary()
	}
	return &StreamObject{Dictionary: dict, Data: data, Decoded: data}
}

func (s *StreamObject) Write(w io.Writer) error {
	s.Dictionary.Set("Length", IntegerObject(len(s.Data)))
	if err := s.Dictionary.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

func (s *StreamObject) Clone() PdfObject {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	var decoded []byte
	if s.Decoded != nil {
		decoded = make([]byte, len(s.Decoded))
		copy(decoded, s.Decoded)
	}
	return &StreamObject{
		Dictionary: s.Dictionary.Clone().(*DictionaryObject),
		Data:       data,
		Decoded:    decoded,
	}
}

// DecodedData returns the unfiltered bytes when available, else the raw
// bytes.
func (s *StreamObject) DecodedData() []byte {
	if s.Decoded != nil {
		return s.Decoded
	}
	return s.Data
}

// Rectangle is a PDF rectangle given by its lower-left and upper-right
// corners.
type Rectangle struct {
	LLX, LLY float64
	URX, URY float64
}

// NewRectangle builds a rectangle from a 4-element numeric array.
func NewRectangle(arr ArrayObject) (*Rectangle, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("rectangle must have 4 elements, got %d", len(arr))
	}
	var v [4]float64
	for i, obj := range arr {
		n, ok := NumericValue(obj)
		if !ok {
			return nil, fmt.Errorf("rectangle element %d is not numeric", i)
		}
		v[i] = n
	}
	return &Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}, nil
}

// ToArray converts the rectangle to its PDF array form.
func (r *Rectangle) ToArray() ArrayObject {
	return ArrayObject{
		RealObject(r.LLX),
		RealObject(r.LLY),
		RealObject(r.URX),
		RealObject(r.URY),
	}
}

// Width returns URX - LLX.
func (r *Rectangle) Width() float64 { return r.URX - r.LLX }

// Height returns URY - LLY.
func (r *Rectangle) Height() float64 { return r.URY - r.LLY }
