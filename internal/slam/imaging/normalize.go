package imaging

// Normalized is the floating point rendition of an Image in [-1, 1], the
// input range the tracking stage expects.
type Normalized struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// Normalize maps each 8-bit value p to (p/255 - 0.5) * 2. The transform is
// fixed and deterministic.
func Normalize(m *Image) *Normalized {
	out := &Normalized{
		Width:    m.width,
		Height:   m.height,
		Channels: m.channels,
		Data:     make([]float32, len(m.pix)),
	}
	for i, p := range m.pix {
		out.Data[i] = (float32(p)/255.0 - 0.5) * 2.0
	}
	return out
}

// Gray returns the per-pixel mean over channels, row-major.
func (n *Normalized) Gray() []float32 {
	out := make([]float32, n.Width*n.Height)
	if n.Channels == 0 {
		return out
	}
	for i := range out {
		var sum float32
		for c := 0; c < n.Channels; c++ {
			sum += n.Data[i*n.Channels+c]
		}
		out[i] = sum / float32(n.Channels)
	}
	return out
}
