package source

import (
	"io"
	"sync"

	"github.com/antares511/DPVO/internal/slam/frontend"
)

// Slice replays a fixed list of frames.
type Slice struct {
	mu     sync.Mutex
	frames []frontend.Frame
	next   int
}

// NewSlice returns a source over frames. The slice is not copied.
func NewSlice(frames []frontend.Frame) *Slice {
	return &Slice{frames: frames}
}

// Next returns the next frame or io.EOF.
func (s *Slice) Next() (frontend.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return frontend.Frame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// Remaining returns the number of frames not yet returned.
func (s *Slice) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - s.next
}
