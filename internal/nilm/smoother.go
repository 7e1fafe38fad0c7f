package nilm

// Smoother keeps a rolling mean over the most recent readings. Until the
// window fills, the mean is taken over whatever has arrived so far.
type Smoother struct {
	values []float64
	size   int
}

// NewSmoother returns a smoother over the given window size. Sizes below
// one are clamped to one.
func NewSmoother(size int) *Smoother {
	if size < 1 {
		size = 1
	}
	return &Smoother{size: size}
}

// Add pushes a reading into the window and returns the new mean.
func (s *Smoother) Add(v float64) float64 {
	s.values = append(s.values, v)
	if len(s.values) > s.size {
		s.values = s.values[len(s.values)-s.size:]
	}
	var sum float64
	for _, x := range s.values {
		sum += x
	}
	return sum / float64(len(s.values))
}

// Size reports the configured window size.
func (s *Smoother) Size() int {
	return s.size
}

// Resize changes the window size, keeping the most recent readings.
func (s *Smoother) Resize(size int) {
	if size < 1 {
		size = 1
	}
	s.size = size
	if len(s.values) > size {
		s.values = s.values[len(s.values)-size:]
	}
}

// Reset discards all buffered readings.
func (s *Smoother) Reset() {
	s.values = s.values[:0]
}
