// Package imaging holds the pixel buffers handed between the frame source,
// the frontend and the frame store.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// ErrBadDimensions is returned when a pixel slice does not match the
// declared width, height and channel count.
var ErrBadDimensions = errors.New("pixel buffer does not match dimensions")

// Image is an 8-bit, row-major, interleaved pixel buffer. It is immutable:
// the constructor copies the pixels in and accessors never hand out the
// backing slice, so a committed image cannot be changed behind the store's
// back.
type Image struct {
	width    int
	height   int
	channels int
	pix      []uint8
}

// NewImage copies pix into a new Image.
func NewImage(width, height, channels int, pix []uint8) (*Image, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrBadDimensions, width, height, channels)
	}
	if len(pix) != width*height*channels {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadDimensions, len(pix), width*height*channels)
	}
	buf := make([]uint8, len(pix))
	copy(buf, pix)
	return &Image{width: width, height: height, channels: channels, pix: buf}, nil
}

// FromImage converts any image.Image to a 3-channel RGB Image.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(src.At(x, y)).(color.RGBA)
			pix = append(pix, c.R, c.G, c.B)
		}
	}
	return &Image{width: w, height: h, channels: 3, pix: pix}
}

// Width returns the image width in pixels.
func (m *Image) Width() int { return m.width }

// Height returns the image height in pixels.
func (m *Image) Height() int { return m.height }

// Channels returns the number of interleaved channels.
func (m *Image) Channels() int { return m.channels }

// At returns channel c of pixel (x, y).
func (m *Image) At(x, y, c int) uint8 {
	return m.pix[(y*m.width+x)*m.channels+c]
}

// Pixels returns a copy of the pixel data.
func (m *Image) Pixels() []uint8 {
	out := make([]uint8, len(m.pix))
	copy(out, m.pix)
	return out
}

// Mean returns the mean intensity over all channels in [0, 255].
func (m *Image) Mean() float64 {
	if len(m.pix) == 0 {
		return 0
	}
	vals := make([]float64, len(m.pix))
	for i, p := range m.pix {
		vals[i] = float64(p)
	}
	return floats.Sum(vals) / float64(len(vals))
}

// Std renders the image as a standard library RGBA image. Single channel
// images are expanded to grey.
func (m *Image) Std() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			var c color.RGBA
			switch m.channels {
			case 1, 2:
				v := m.At(x, y, 0)
				c = color.RGBA{R: v, G: v, B: v, A: 255}
			default:
				c = color.RGBA{R: m.At(x, y, 0), G: m.At(x, y, 1), B: m.At(x, y, 2), A: 255}
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// Resize scales m to width × height with bilinear interpolation and
// returns an RGB image.
func Resize(m *Image, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: resize target %dx%d", ErrBadDimensions, width, height)
	}
	if m.width == width && m.height == height && m.channels == 3 {
		return m, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), m.Std(), image.Rect(0, 0, m.width, m.height), draw.Src, nil)
	return FromImage(dst), nil
}
