package source

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/antares511/DPVO/internal/slam/frontend"
	"github.com/antares511/DPVO/internal/testutil"
)

func writeImage(t *testing.T, path string, w, h int, v uint8) {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	if filepath.Ext(path) == ".bmp" {
		require.NoError(t, bmp.Encode(f, m))
	} else {
		require.NoError(t, png.Encode(f, m))
	}
}

func drain(t *testing.T, next func() (frontend.Frame, error)) []frontend.Frame {
	t.Helper()
	var out []frontend.Frame
	for {
		f, err := next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestSlice(t *testing.T) {
	frames := []frontend.Frame{{TimestampNanos: 1}, {TimestampNanos: 2}}
	s := NewSlice(frames)
	assert.Equal(t, 2, s.Remaining())
	got := drain(t, s.Next)
	assert.Equal(t, frames, got)
	assert.Zero(t, s.Remaining())

	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDir_DecodesAndResizes(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), 32, 24, 10)
	writeImage(t, filepath.Join(dir, "b.bmp"), 32, 24, 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	d, err := OpenDir(dir, DirConfig{Width: 64, Height: 48, Intrinsics: testutil.DefaultIntrinsics})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	frames := drain(t, d.Next)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.Equal(t, 64, f.Image.Width())
		assert.Equal(t, 48, f.Image.Height())
		assert.Equal(t, testutil.DefaultIntrinsics, f.Intrinsics)
	}
	assert.Equal(t, int64(time.Second/30), frames[0].TimestampNanos)
	assert.Equal(t, int64(2*time.Second/30), frames[1].TimestampNanos)
	assert.InDelta(t, 10, frames[0].Image.Mean(), 1)
	assert.InDelta(t, 200, frames[1].Image.Mean(), 1)
}

func TestDir_TimestampsFromNames(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "1000.png"), 8, 8, 1)
	writeImage(t, filepath.Join(dir, "2000.png"), 8, 8, 1)
	writeImage(t, filepath.Join(dir, "3000.png"), 8, 8, 1)

	d, err := OpenDir(dir, DirConfig{Width: 8, Height: 8, Intrinsics: testutil.DefaultIntrinsics, Stride: 2})
	require.NoError(t, err)
	frames := drain(t, d.Next)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(1000), frames[0].TimestampNanos)
	assert.Equal(t, int64(3000), frames[1].TimestampNanos)
}

func TestDir_Errors(t *testing.T) {
	_, err := OpenDir(t.TempDir(), DirConfig{Width: 8, Height: 8, Intrinsics: testutil.DefaultIntrinsics})
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = OpenDir(filepath.Join(t.TempDir(), "missing"), DirConfig{Width: 8, Height: 8, Intrinsics: testutil.DefaultIntrinsics})
	assert.Error(t, err)

	_, err = OpenDir(t.TempDir(), DirConfig{Width: 0, Height: 8, Intrinsics: testutil.DefaultIntrinsics})
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644))
	d, err := OpenDir(dir, DirConfig{Width: 8, Height: 8, Intrinsics: testutil.DefaultIntrinsics})
	require.NoError(t, err)
	_, err = d.Next()
	assert.ErrorContains(t, err, "decode")
}

func TestSynthetic(t *testing.T) {
	s, err := NewSynthetic(SyntheticConfig{Width: 64, Height: 48, Frames: 5, Intrinsics: DefaultIntrinsics(64, 48)})
	require.NoError(t, err)

	frames := drain(t, s.Next)
	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, 64, f.Image.Width())
		if i > 0 {
			assert.Greater(t, f.TimestampNanos, frames[i-1].TimestampNanos)
			assert.NotEqual(t, frames[i-1].Image.Pixels(), f.Image.Pixels(), "frame %d did not move", i)
		}
	}

	// Deterministic.
	again, err := NewSynthetic(SyntheticConfig{Width: 64, Height: 48, Frames: 5, Intrinsics: DefaultIntrinsics(64, 48)})
	require.NoError(t, err)
	f0, err := again.Next()
	require.NoError(t, err)
	assert.Equal(t, frames[0].Image.Pixels(), f0.Image.Pixels())
}

func TestSynthetic_Validation(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{Width: 4, Height: 4, Intrinsics: DefaultIntrinsics(4, 4)})
	assert.Error(t, err)
	_, err = NewSynthetic(SyntheticConfig{Width: 64, Height: 48, Frames: -1, Intrinsics: DefaultIntrinsics(64, 48)})
	assert.Error(t, err)
	_, err = NewSynthetic(SyntheticConfig{Width: 64, Height: 48, Frames: 1})
	assert.Error(t, err)
}
