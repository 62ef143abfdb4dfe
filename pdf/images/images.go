// Package images decodes raster images (PNG, JPEG, and anything registered
// with image.Decode, including JBIG2) into image XObjects ready for page
// overlays. JPEG payloads are embedded as-is under DCTDecode; everything
// else is unpacked to raw samples and deflated.
package images

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	_ "image/gif"

	_ "github.com/xiaoqidun/jbig2"

	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/filters"
	"github.com/pdforge/pdforge/pdf/generic"
)

// Image errors.
var (
	ErrDecodeFailed      = errors.New("image decode failed")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

// ColorSpace is a PDF device color space name.
type ColorSpace string

const (
	ColorSpaceGray ColorSpace = "DeviceGray"
	ColorSpaceRGB  ColorSpace = "DeviceRGB"
	ColorSpaceCMYK ColorSpace = "DeviceCMYK"
)

// PDFImage is a decoded raster ready for embedding. Data holds the bytes
// exactly as they go into the stream, already encoded per Filter.
type PDFImage struct {
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       ColorSpace
	Components       int

	Data   []byte
	Filter string

	// Alpha holds a deflated 8-bit gray soft mask, nil for opaque images.
	Alpha []byte

	DPIx, DPIy float64
}

// FromReader decodes an image from r.
func FromReader(r io.Reader) (*PDFImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}

// FromFile decodes the image file at path.
func FromFile(path string) (*PDFImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}

// FromBytes decodes an encoded image. PNG and JPEG are recognized by
// signature; other formats go through image.Decode and pick up whatever
// decoders are registered.
func FromBytes(data []byte) (*PDFImage, error) {
	switch {
	case isPNG(data):
		return decodePNG(data)
	case isJPEG(data):
		return decodeJPEG(data)
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return FromImage(img)
	}
}

// FromImage converts a decoded Go image into embeddable form: samples are
// extracted per the color model and deflated, with a soft mask split off
// when any pixel is translucent.
func FromImage(img image.Image) (*PDFImage, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}

	colorSpace := ColorSpaceRGB
	components := 3
	withAlpha := true
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		colorSpace = ColorSpaceGray
		components = 1
		withAlpha = false
	case color.CMYKModel:
		colorSpace = ColorSpaceCMYK
		components = 4
		withAlpha = false
	}

	pixels := make([]byte, 0, width*height*components)
	var alpha []byte
	if withAlpha {
		alpha = make([]byte, 0, width*height)
	}
	translucent := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			switch colorSpace {
			case ColorSpaceGray:
				g := color.GrayModel.Convert(c).(color.Gray)
				pixels = append(pixels, g.Y)
			case ColorSpaceCMYK:
				k := color.CMYKModel.Convert(c).(color.CMYK)
				pixels = append(pixels, k.C, k.M, k.Y, k.K)
			default:
				r, g, b, a := c.RGBA()
				pixels = append(pixels, byte(r>>8), byte(g>>8), byte(b>>8))
				alpha = append(alpha, byte(a>>8))
				if a>>8 != 0xFF {
					translucent = true
				}
			}
		}
	}

	out := &PDFImage{
		Width:            width,
		Height:           height,
		BitsPerComponent: 8,
		ColorSpace:       colorSpace,
		Components:       components,
		Data:             filters.FlateEncode(pixels),
		Filter:           "FlateDecode",
		DPIx:             72,
		DPIy:             72,
	}
	if translucent {
		out.Alpha = filters.FlateEncode(alpha)
	}
	return out, nil
}

// HasAlpha reports whether the image carries a soft mask.
func (img *PDFImage) HasAlpha() bool { return len(img.Alpha) > 0 }

// XObject builds the image XObject stream. A translucent image also adds
// its soft mask to doc and wires it through /SMask.
func (img *PDFImage) XObject(doc *document.Document) *generic.StreamObject {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XObject"))
	dict.Set("Subtype", generic.NameObject("Image"))
	dict.Set("Width", generic.IntegerObject(int64(img.Width)))
	dict.Set("Height", generic.IntegerObject(int64(img.Height)))
	dict.Set("ColorSpace", generic.NameObject(string(img.ColorSpace)))
	dict.Set("BitsPerComponent", generic.IntegerObject(int64(img.BitsPerComponent)))
	if img.Filter != "" {
		dict.Set("Filter", generic.NameObject(img.Filter))
	}

	if img.HasAlpha() {
		mask := generic.NewDictionary()
		mask.Set("Type", generic.NameObject("XObject"))
		mask.Set("Subtype", generic.NameObject("Image"))
		mask.Set("Width", generic.IntegerObject(int64(img.Width)))
		mask.Set("Height", generic.IntegerObject(int64(img.Height)))
		mask.Set("ColorSpace", generic.NameObject(string(ColorSpaceGray)))
		mask.Set("BitsPerComponent", generic.IntegerObject(8))
		mask.Set("Filter", generic.NameObject("FlateDecode"))
		maskStream := generic.NewStream(mask, img.Alpha)
		maskStream.Decoded = nil
		dict.Set("SMask", doc.Add(maskStream))
	}

	stream := generic.NewStream(dict, img.Data)
	stream.Decoded = nil
	return stream
}

// RawSamples returns the unfiltered sample bytes: the deflate payload
// inflated, or a JPEG decoded back to its component samples.
func (img *PDFImage) RawSamples() ([]byte, error) {
	switch img.Filter {
	case "":
		return img.Data, nil
	case "FlateDecode":
		r, err := zlib.NewReader(bytes.NewReader(img.Data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "DCTDecode":
		decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
		if err != nil {
			return nil, err
		}
		bounds := decoded.Bounds()
		var pixels []byte
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := decoded.At(x, y).RGBA()
				if img.ColorSpace == ColorSpaceGray {
					pixels = append(pixels, byte(r>>8))
				} else {
					pixels = append(pixels, byte(r>>8), byte(g>>8), byte(b>>8))
				}
			}
		}
		return pixels, nil
	default:
		return nil, fmt.Errorf("unsupported filter: %s", img.Filter)
	}
}

// PointSize returns the image's natural size in PDF user-space points,
// derived from its pixel density.
func (img *PDFImage) PointSize() (width, height float64) {
	dpix, dpiy := img.DPIx, img.DPIy
	if dpix <= 0 {
		dpix = 72
	}
	if dpiy <= 0 {
		dpiy = 72
	}
	return float64(img.Width) / dpix * 72, float64(img.Height) / dpiy * 72
}

// Dimensions reads an image's pixel size without decoding the samples.
func Dimensions(data []byte) (width, height int, err error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return config.Width, config.Height, nil
}

func isPNG(data []byte) bool {
	return len(data) >= 8 &&
		bytes.Equal(data[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
}

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

func decodePNG(data []byte) (*PDFImage, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	out, err := FromImage(img)
	if err != nil {
		return nil, err
	}
	out.DPIx, out.DPIy = pngDensity(data)
	return out, nil
}

// decodeJPEG keeps the original JPEG bytes and embeds them under DCTDecode,
// so the image is never re-encoded.
func decodeJPEG(data []byte) (*PDFImage, error) {
	config, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	colorSpace := ColorSpaceRGB
	components := 3
	switch config.ColorModel {
	case color.GrayModel:
		colorSpace = ColorSpaceGray
		components = 1
	case color.CMYKModel:
		colorSpace = ColorSpaceCMYK
		components = 4
	}

	dpix, dpiy := jpegDensity(data)
	return &PDFImage{
		Width:            config.Width,
		Height:           config.Height,
		BitsPerComponent: 8,
		ColorSpace:       colorSpace,
		Components:       components,
		Data:             data,
		Filter:           "DCTDecode",
		DPIx:             dpix,
		DPIy:             dpiy,
	}, nil
}

// pngDensity reads the pHYs chunk, converting pixels-per-meter to DPI.
func pngDensity(data []byte) (float64, float64) {
	offset := 8
	for offset+12 <= len(data) {
		chunkLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		chunkType := string(data[offset+4 : offset+8])

		if chunkType == "pHYs" && chunkLen >= 9 && offset+8+chunkLen <= len(data) {
			chunk := data[offset+8 : offset+8+chunkLen]
			ppuX := binary.BigEndian.Uint32(chunk[0:4])
			ppuY := binary.BigEndian.Uint32(chunk[4:8])
			if chunk[8] == 1 { // meters
				return float64(ppuX) / 39.3701, float64(ppuY) / 39.3701
			}
		}
		if chunkType == "IEND" {
			break
		}
		offset += 12 + chunkLen
	}
	return 72, 72
}

// jpegDensity reads the JFIF APP0 density fields.
func jpegDensity(data []byte) (float64, float64) {
	offset := 2
	for offset+4 < len(data) {
		if data[offset] != 0xFF {
			break
		}
		marker := data[offset+1]
		if marker == 0xD9 { // EOI
			break
		}
		if marker == 0xE0 { // APP0
			length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
			if length >= 14 && offset+4+length <= len(data) {
				app0 := data[offset+4 : offset+4+length]
				if bytes.HasPrefix(app0, []byte("JFIF\x00")) && len(app0) >= 12 {
					units := app0[7]
					x := float64(binary.BigEndian.Uint16(app0[8:10]))
					y := float64(binary.BigEndian.Uint16(app0[10:12]))
					switch units {
					case 1: // dots per inch
						return x, y
					case 2: // dots per centimeter
						return x * 2.54, y * 2.54
					}
				}
			}
		}
		if marker >= 0xD0 && marker <= 0xD9 {
			offset += 2
		} else {
			offset += 2 + int(binary.BigEndian.Uint16(data[offset+2:offset+4]))
		}
	}
	return 72, 72
}
