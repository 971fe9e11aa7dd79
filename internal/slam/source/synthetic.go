package source

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
)

// SyntheticConfig describes a generated sequence: a textured background
// with a bright square moving along a circle.
type SyntheticConfig struct {
	Width, Height int
	Frames        int
	Intrinsics    geom.Intrinsics
	Interval      time.Duration

	// Radius of the square's path in pixels. Zero means a quarter of the
	// smaller image side.
	Radius float64
	// Period is the number of frames per revolution. Zero means Frames.
	Period int
}

// Synthetic yields a deterministic moving pattern. It needs no files and
// is what the CLI uses when no image directory is given.
type Synthetic struct {
	cfg  SyntheticConfig
	next int
}

// NewSynthetic validates cfg and returns the source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width < 8 || cfg.Height < 8 {
		return nil, fmt.Errorf("synthetic frames must be at least 8x8, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Frames < 0 {
		return nil, fmt.Errorf("frame count must be non-negative, got %d", cfg.Frames)
	}
	if !cfg.Intrinsics.Valid() {
		return nil, fmt.Errorf("invalid intrinsics %+v", cfg.Intrinsics)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / 30
	}
	if cfg.Radius <= 0 {
		cfg.Radius = float64(min(cfg.Width, cfg.Height)) / 4
	}
	if cfg.Period <= 0 {
		cfg.Period = max(cfg.Frames, 1)
	}
	return &Synthetic{cfg: cfg}, nil
}

// DefaultIntrinsics returns a pinhole model with a 90° horizontal field
// of view centred on a width × height image.
func DefaultIntrinsics(width, height int) geom.Intrinsics {
	f := float64(width) / 2
	return geom.Intrinsics{Fx: f, Fy: f, Cx: float64(width) / 2, Cy: float64(height) / 2}
}

// Next renders the next frame or returns io.EOF.
func (s *Synthetic) Next() (frontend.Frame, error) {
	if s.next >= s.cfg.Frames {
		return frontend.Frame{}, io.EOF
	}
	i := s.next
	s.next++

	img, err := s.render(i)
	if err != nil {
		return frontend.Frame{}, err
	}
	return frontend.Frame{
		TimestampNanos: int64(i+1) * int64(s.cfg.Interval),
		Image:          img,
		Intrinsics:     s.cfg.Intrinsics,
	}, nil
}

func (s *Synthetic) render(i int) (*imaging.Image, error) {
	w, h := s.cfg.Width, s.cfg.Height
	side := min(w, h) / 6
	theta := 2 * math.Pi * float64(i) / float64(s.cfg.Period)
	sx := int(float64(w)/2 + s.cfg.Radius*math.Cos(theta) - float64(side)/2)
	sy := int(float64(h)/2 + s.cfg.Radius*math.Sin(theta) - float64(side)/2)

	pix := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40 + (x*7+y*13)%48)
			if x >= sx && x < sx+side && y >= sy && y < sy+side {
				v = 235
			}
			o := (y*w + x) * 3
			pix[o], pix[o+1], pix[o+2] = v, v, v
		}
	}
	return imaging.NewImage(w, h, 3, pix)
}
