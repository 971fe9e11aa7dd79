// Package testutil provides shared test fixtures for the SLAM packages:
// synthetic images and frames, and a few assertion helpers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antares511/DPVO/internal/slam/geom"
	"github.com/antares511/DPVO/internal/slam/imaging"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request from a loopback address, which
// the tsweb debug handlers require.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// DefaultIntrinsics are full-resolution pinhole parameters matching a
// 64×48 test image.
var DefaultIntrinsics = geom.Intrinsics{Fx: 60, Fy: 60, Cx: 32, Cy: 24}

// GradientImage returns a width×height grey image with a bright square
// whose top-left corner sits at (shift, shift/2). Moving shift moves the
// intensity centroid, which the reference tracker picks up as motion.
func GradientImage(t testing.TB, width, height, shift int) *imaging.Image {
	t.Helper()
	pix := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x + y) % 32)
			sx, sy := x-shift, y-shift/2
			if sx >= 0 && sx < width/4 && sy >= 0 && sy < height/4 {
				v = 230
			}
			pix[y*width+x] = v
		}
	}
	img, err := imaging.NewImage(width, height, 1, pix)
	if err != nil {
		t.Fatalf("GradientImage: %v", err)
	}
	return img
}

// UniformImage returns a width×height grey image filled with v.
func UniformImage(t testing.TB, width, height int, v uint8) *imaging.Image {
	t.Helper()
	pix := make([]uint8, width*height)
	for i := range pix {
		pix[i] = v
	}
	img, err := imaging.NewImage(width, height, 1, pix)
	if err != nil {
		t.Fatalf("UniformImage: %v", err)
	}
	return img
}
