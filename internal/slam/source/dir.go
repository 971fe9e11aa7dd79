package source

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
)

// ErrNoImages is returned by OpenDir when the directory holds no
// supported image files.
var ErrNoImages = errors.New("no image files found")

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".webp": true}

// DirConfig controls how a directory of images becomes a frame stream.
type DirConfig struct {
	// Width and Height are the frame size; images are resized to it.
	Width  int
	Height int

	// Intrinsics are given for the Width × Height frame.
	Intrinsics geom.Intrinsics

	// Stride keeps every Stride-th image. Zero means 1.
	Stride int

	// Interval spaces timestamps for files whose name is not an integer
	// nanosecond timestamp. Zero means 1/30 s.
	Interval time.Duration
}

// Dir streams image files from a directory in lexical order.
type Dir struct {
	cfg   DirConfig
	paths []string
	next  int
	lastT int64
}

// OpenDir lists the supported images in dir.
func OpenDir(dir string, cfg DirConfig) (*Dir, error) {
	if cfg.Width < 1 || cfg.Height < 1 {
		return nil, fmt.Errorf("frame size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if !cfg.Intrinsics.Valid() {
		return nil, fmt.Errorf("invalid intrinsics %+v", cfg.Intrinsics)
	}
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / 30
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	kept := paths[:0]
	for i := 0; i < len(paths); i += cfg.Stride {
		kept = append(kept, paths[i])
	}
	return &Dir{cfg: cfg, paths: kept}, nil
}

// Len returns the number of frames the stream will yield.
func (d *Dir) Len() int { return len(d.paths) }

// Next decodes the next image. Timestamps come from integer file names
// when present and are otherwise derived from the position in the stream;
// a name that would go backwards falls back to the derived value.
func (d *Dir) Next() (frontend.Frame, error) {
	if d.next >= len(d.paths) {
		return frontend.Frame{}, io.EOF
	}
	path := d.paths[d.next]
	idx := d.next
	d.next++

	img, err := decodeFile(path)
	if err != nil {
		return frontend.Frame{}, err
	}
	resized, err := imaging.Resize(img, d.cfg.Width, d.cfg.Height)
	if err != nil {
		return frontend.Frame{}, fmt.Errorf("resize %s: %w", path, err)
	}

	ts := int64(idx+1) * int64(d.cfg.Interval)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if v, err := strconv.ParseInt(stem, 10, 64); err == nil && v > d.lastT {
		ts = v
	}
	if ts <= d.lastT {
		ts = d.lastT + 1
	}
	d.lastT = ts

	return frontend.Frame{TimestampNanos: ts, Image: resized, Intrinsics: d.cfg.Intrinsics}, nil
}

func decodeFile(path string) (*imaging.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	m, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return imaging.FromImage(m), nil
}
