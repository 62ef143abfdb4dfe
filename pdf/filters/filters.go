// Package filters implements the PDF stream filters needed for reading and
// writing document structures: FlateDecode (with PNG predictors),
// ASCIIHexDecode, ASCII85Decode and RunLengthDecode.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pdforge/pdforge/pdf/generic"
)

// Filter errors.
var (
	ErrUnsupportedFilter = errors.New("unsupported stream filter")
	ErrDecodeFailed      = errors.New("stream decode failed")
)

// Filter transforms stream payload bytes in both directions. DecodeParms
// may be nil.
type Filter interface {
	Name() string
	Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error)
	Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error)
}

var registry = map[string]Filter{
	"FlateDecode":     flateFilter{},
	"Fl":              flateFilter{},
	"ASCIIHexDecode":  asciiHexFilter{},
	"AHx":             asciiHexFilter{},
	"ASCII85Decode":   ascii85Filter{},
	"A85":             ascii85Filter{},
	"RunLengthDecode": runLengthFilter{},
	"RL":              runLengthFilter{},
}

// ByName returns the filter registered under name.
func ByName(name string) (Filter, error) {
	if f, ok := registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// Decode returns the fully decoded payload of stream, applying its /Filter
// chain in order. A stream without filters decodes to its raw bytes.
func Decode(stream *generic.StreamObject) ([]byte, error) {
	names, parms, err := filterChain(stream.Dictionary)
	if err != nil {
		return nil, err
	}
	data := stream.Data
	for i, name := range names {
		f, err := ByName(name)
		if err != nil {
			return nil, err
		}
		data, err = f.Decode(data, parms[i])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return data, nil
}

// filterChain normalizes /Filter and /DecodeParms, both of which may be a
// single value or an array.
func filterChain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject, error) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case nil:
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			n, ok := item.(generic.NameObject)
			if !ok {
				return nil, nil, fmt.Errorf("%w: non-name in /Filter array", ErrDecodeFailed)
			}
			names = append(names, string(n))
		}
	default:
		return nil, nil, fmt.Errorf("%w: bad /Filter entry", ErrDecodeFailed)
	}

	parms := make([]*generic.DictionaryObject, len(names))
	switch p := dict.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		if len(parms) > 0 {
			parms[0] = p
		}
	case generic.ArrayObject:
		for i := range parms {
			if i < len(p) {
				if d, ok := p[i].(*generic.DictionaryObject); ok {
					parms[i] = d
				}
			}
		}
	}
	return names, parms, nil
}

// FlateEncode compresses data and is the encoder used for all streams this
// module writes.
func FlateEncode(data []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

type flateFilter struct{}

func (flateFilter) Name() string { return "FlateDecode" }

func (flateFilter) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return undoPredictor(out, parms)
}

func (flateFilter) Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	return FlateEncode(data), nil
}

// undoPredictor reverses a /Predictor transform. Predictor 1 (or absent) is
// the identity; 2 is the TIFF horizontal predictor; 10..15 are the PNG row
// filters.
func undoPredictor(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	if parms == nil {
		return data, nil
	}
	predictor, ok := parms.GetInt("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}

	columns := int64(1)
	if v, ok := parms.GetInt("Columns"); ok {
		columns = v
	}
	colors := int64(1)
	if v, ok := parms.GetInt("Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := parms.GetInt("BitsPerComponent"); ok {
		bpc = v
	}

	bytesPerPixel := int((colors*bpc + 7) / 8)
	rowLen := int((columns*colors*bpc + 7) / 8)
	if rowLen <= 0 || bytesPerPixel <= 0 {
		return nil, fmt.Errorf("%w: bad predictor parameters", ErrDecodeFailed)
	}

	if predictor == 2 {
		return undoTIFFPredictor(data, rowLen, bytesPerPixel)
	}
	if predictor >= 10 && predictor <= 15 {
		return undoPNGPredictor(data, rowLen, bytesPerPixel)
	}
	return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, predictor)
}

func undoTIFFPredictor(data []byte, rowLen, bytesPerPixel int) ([]byte, error) {
	if len(data)%rowLen != 0 {
		return nil, fmt.Errorf("%w: data not a whole number of rows", ErrDecodeFailed)
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row < len(out); row += rowLen {
		for i := bytesPerPixel; i < rowLen; i++ {
			out[row+i] += out[row+i-bytesPerPixel]
		}
	}
	return out, nil
}

func undoPNGPredictor(data []byte, rowLen, bytesPerPixel int) ([]byte, error) {
	stride := rowLen + 1 // one tag byte per row
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: data not a whole number of predicted rows", ErrDecodeFailed)
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)

	for r := 0; r < rows; r++ {
		tag := data[r*stride]
		row := data[r*stride+1 : (r+1)*stride]

		switch tag {
		case 0: // None
			copy(cur, row)
		case 1: // Sub
			for i := range row {
				left := byte(0)
				if i >= bytesPerPixel {
					left = cur[i-bytesPerPixel]
				}
				cur[i] = row[i] + left
			}
		case 2: // Up
			for i := range row {
				cur[i] = row[i] + prev[i]
			}
		case 3: // Average
			for i := range row {
				left := 0
				if i >= bytesPerPixel {
					left = int(cur[i-bytesPerPixel])
				}
				cur[i] = row[i] + byte((left+int(prev[i]))/2)
			}
		case 4: // Paeth
			for i := range row {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = cur[i-bytesPerPixel]
					upLeft = prev[i-bytesPerPixel]
				}
				cur[i] = row[i] + paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("%w: PNG row filter %d", ErrDecodeFailed, tag)
		}

		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

type asciiHexFilter struct{}

func (asciiHexFilter) Name() string { return "ASCIIHexDecode" }

func (asciiHexFilter) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	var sb strings.Builder
	for _, b := range data {
		if b == '>' {
			break
		}
		if generic.IsWhitespace(b) {
			continue
		}
		sb.WriteByte(b)
	}
	s := sb.String()
	if len(s)%2 != 0 {
		s += "0"
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func (asciiHexFilter) Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	return []byte(hex.EncodeToString(data) + ">"), nil
}

type ascii85Filter struct{}

func (ascii85Filter) Name() string { return "ASCII85Decode" }

func (ascii85Filter) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end >= 0 {
		data = data[:end]
	}
	cleaned := make([]byte, 0, len(data))
	for _, b := range data {
		if !generic.IsWhitespace(b) {
			cleaned = append(cleaned, b)
		}
	}
	out, err := io.ReadAll(ascii85.NewDecoder(bytes.NewReader(cleaned)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func (ascii85Filter) Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("~>")
	return buf.Bytes(), nil
}

type runLengthFilter struct{}

func (runLengthFilter) Name() string { return "RunLengthDecode" }

func (runLengthFilter) Decode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(data) {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out.Bytes(), nil
		case n < 128:
			count := n + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("%w: truncated literal run", ErrDecodeFailed)
			}
			out.Write(data[i : i+count])
			i += count
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("%w: truncated repeat run", ErrDecodeFailed)
			}
			for j := 0; j < 257-n; j++ {
				out.WriteByte(data[i])
			}
			i++
		}
	}
	return out.Bytes(), nil
}

func (runLengthFilter) Encode(data []byte, parms *generic.DictionaryObject) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(data) {
		runEnd := i
		for runEnd < len(data)-1 && data[runEnd] == data[runEnd+1] && runEnd-i < 127 {
			runEnd++
		}
		if runEnd > i {
			out.WriteByte(byte(257 - (runEnd - i + 1)))
			out.WriteByte(data[i])
			i = runEnd + 1
			continue
		}
		litStart := i
		for i < len(data) && i-litStart < 128 {
			if i < len(data)-1 && data[i] == data[i+1] {
				break
			}
			i++
		}
		out.WriteByte(byte(i - litStart - 1))
		out.Write(data[litStart:i])
	}
	out.WriteByte(128)
	return out.Bytes(), nil
}
