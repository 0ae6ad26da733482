package display

import (
	_ "embed"
	"fmt"
	"image"
)

// Device geometry. Rows are packed at Width/8 bytes with no padding, so
// Width must stay a multiple of 8.
const (
	Width         = 800
	Height        = 480
	PixelsPerByte = 8
	HeaderSize    = 62
	PixelBytes    = Width * Height / PixelsPerByte
	ImageSize     = HeaderSize + PixelBytes
)

//go:embed blank.bmp
var blankBMP []byte

func init() {
	if Width%PixelsPerByte != 0 {
		panic(fmt.Sprintf("display width %d is not a multiple of %d", Width, PixelsPerByte))
	}
	if len(blankBMP) < HeaderSize {
		panic("embedded blank.bmp is shorter than the bitmap header")
	}
}

// BlankBitmap returns a copy of the reference all-white bitmap
func BlankBitmap() []byte {
	out := make([]byte, len(blankBMP))
	copy(out, blankBMP)
	return out
}

// SizeError is returned when a raster does not match the device geometry
type SizeError struct {
	Width, Height int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("raster is %dx%d, want %dx%d", e.Width, e.Height, Width, Height)
}

// Pack converts a raster into the device bitmap: the reference header
// followed by 1bpp rows, bottom row first, most significant bit leftmost.
// Only opaque white becomes a set bit.
func Pack(img *image.RGBA) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() != Width || b.Dy() != Height {
		return nil, &SizeError{Width: b.Dx(), Height: b.Dy()}
	}

	out := make([]byte, ImageSize)
	copy(out, blankBMP[:HeaderSize])
	pixels := out[HeaderSize:]

	for y := 0; y < Height; y++ {
		row := (Height - 1 - y) * Width
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < Width; x++ {
			p := src[x*4 : x*4+4]
			if p[0] == 0xff && p[1] == 0xff && p[2] == 0xff && p[3] == 0xff {
				i := row + x
				pixels[i/PixelsPerByte] |= 0x80 >> (i % PixelsPerByte)
			}
		}
	}

	return out, nil
}
